// Package auth identifies operators calling the admin endpoints.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader is accepted when no bearer token is present, for tools that
// cannot set Authorization.
const APIKeyHeader = "X-API-Key"

// Principal is an authenticated operator.
type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// KeyFromRequest extracts the presented admin key.
func KeyFromRequest(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	if scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key, true
	}
	return "", false
}

// Match reports whether key is one of keys. Every configured key is compared
// in constant time.
func Match(keys map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	found := 0
	for k := range keys {
		found |= subtle.ConstantTimeCompare([]byte(k), []byte(key))
	}
	return found == 1
}
