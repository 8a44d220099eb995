// Package principal names the caller of a request for throttling and logs.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-retell/pkg/gateway/auth"
	"github.com/vango-go/vai-retell/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Raw is the API key or IP. It must not be logged for KindAPIKey.
	Raw string
	// Key is the limiter bucket.
	Key string
}

var anonymous = Resolved{Kind: KindAnon, Key: "anonymous"}

// proxyIPHeaders are consulted in order when proxy headers are trusted.
var proxyIPHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// Resolve identifies the caller of an admin request: the authenticated API
// key if any, else the client IP.
func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	if r == nil {
		return anonymous
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return Resolved{Kind: KindAPIKey, Raw: p.APIKey, Key: ratelimit.PrincipalKeyFromAPIKey(p.APIKey)}
	}
	if ip := ClientIP(r, trustProxyHeaders); ip != "" {
		return Resolved{Kind: KindIP, Raw: ip, Key: ratelimit.PrincipalKeyFromIP(ip)}
	}
	return anonymous
}

// ClientIP returns the caller's address, or "" when it cannot be parsed.
// With trustProxyHeaders the left-most forwarded address wins over
// RemoteAddr.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}
	if trustProxyHeaders {
		for _, name := range proxyIPHeaders {
			raw := strings.TrimSpace(r.Header.Get(name))
			if raw == "" {
				continue
			}
			first, _, _ := strings.Cut(raw, ",")
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}
	return parseIP(r.RemoteAddr)
}

// parseIP accepts "ip" or "ip:port" and returns the canonical address.
func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
