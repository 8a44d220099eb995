package metadata

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Safe wraps a Store so that no error crosses the boundary. Failures are
// logged; reads report absent and writes report false.
type Safe struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewSafe wraps store. A non-positive ttl selects DefaultTTL.
func NewSafe(store Store, ttl time.Duration, logger *slog.Logger) *Safe {
	if store == nil {
		store = NewMemory()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{store: store, ttl: ttl, logger: logger}
}

// Store records fields under phone with the configured TTL.
func (s *Safe) Store(ctx context.Context, phone string, fields types.CallFields) bool {
	if s == nil {
		return false
	}
	if err := s.store.Set(ctx, phone, fields, s.ttl); err != nil {
		s.logger.Warn("metadata store failed", "backend", s.store.Backend(), "phone", NormalizeKey(phone), "error", err)
		return false
	}
	s.logger.Debug("metadata stored", "backend", s.store.Backend(), "phone", NormalizeKey(phone), "fields", fields.Count(), "ttl", s.ttl)
	return true
}

// Retrieve returns the fields stored under phone, if any.
func (s *Safe) Retrieve(ctx context.Context, phone string) (types.CallFields, bool) {
	if s == nil {
		return types.CallFields{}, false
	}
	fields, ok, err := s.store.Get(ctx, phone)
	if err != nil {
		s.logger.Warn("metadata retrieve failed", "backend", s.store.Backend(), "phone", NormalizeKey(phone), "error", err)
		return types.CallFields{}, false
	}
	s.logger.Debug("metadata retrieve", "backend", s.store.Backend(), "phone", NormalizeKey(phone), "found", ok)
	return fields, ok
}

// Delete removes the entry for phone. Deleting an absent entry succeeds.
func (s *Safe) Delete(ctx context.Context, phone string) bool {
	if s == nil {
		return false
	}
	if err := s.store.Delete(ctx, phone); err != nil {
		s.logger.Warn("metadata delete failed", "backend", s.store.Backend(), "phone", NormalizeKey(phone), "error", err)
		return false
	}
	return true
}

// Backend names the wrapped backend.
func (s *Safe) Backend() string {
	if s == nil {
		return ""
	}
	return s.store.Backend()
}

// TTL is the expiry applied by Store.
func (s *Safe) TTL() time.Duration {
	if s == nil {
		return 0
	}
	return s.ttl
}

// Close closes the wrapped backend.
func (s *Safe) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}
