// Package metadata caches per-call provider fields keyed by phone number.
//
// Entries are short-lived: they are written by the ingestion endpoint shortly
// before a call is placed, read once when the call's details arrive, and
// removed when the call ends. Every backend is safe for concurrent use.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// KeyPrefix namespaces every stored entry.
const KeyPrefix = "provider_metadata:"

// DefaultTTL is the expiry applied by the ingestion endpoint.
const DefaultTTL = time.Hour

// ErrInvalidKey is returned when a phone number normalizes to nothing.
var ErrInvalidKey = errors.New("metadata: phone number has no digits")

// Store is a keyed cache of call fields. Keys are raw phone numbers; each
// backend normalizes them with StorageKey.
type Store interface {
	Set(ctx context.Context, phone string, fields types.CallFields, ttl time.Duration) error
	Get(ctx context.Context, phone string) (types.CallFields, bool, error)
	Delete(ctx context.Context, phone string) error
	Backend() string
	Close() error
}

// NormalizeKey keeps only decimal digits and '+' from raw, preserving order.
func NormalizeKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StorageKey returns the namespaced key for a raw phone number.
func StorageKey(phone string) (string, error) {
	n := NormalizeKey(phone)
	if strings.Trim(n, "+") == "" {
		return "", ErrInvalidKey
	}
	return KeyPrefix + n, nil
}

func encodeFields(fields types.CallFields) ([]byte, error) {
	return json.Marshal(fields)
}

func decodeFields(data []byte) (types.CallFields, error) {
	var fields types.CallFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return types.CallFields{}, err
	}
	return fields, nil
}
