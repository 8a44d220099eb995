package metadata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"15551234567", "15551234567"},
		{"555.123.4567", "5551234567"},
		{"tel:+44 20 7946 0958", "+442079460958"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStorageKey(t *testing.T) {
	key, err := StorageKey("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("StorageKey error: %v", err)
	}
	if key != "provider_metadata:+15551234567" {
		t.Fatalf("key=%q", key)
	}
	for _, bad := range []string{"", "+", "n/a"} {
		if _, err := StorageKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("StorageKey(%q) err=%v, want ErrInvalidKey", bad, err)
		}
	}
}

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func newBadgerStore(t *testing.T) *Badger {
	t.Helper()
	s, err := NewBadger(BadgerOptions{InMemory: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores_SetGetDelete(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemory() },
		"badger": func(t *testing.T) Store { return newBadgerStore(t) },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			if s.Backend() != name {
				t.Fatalf("Backend()=%q, want %q", s.Backend(), name)
			}

			if _, ok, err := s.Get(ctx, "+15551234567"); err != nil || ok {
				t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
			}

			fields := types.CallFields{ProviderName: "Acme Clinic", NPINumber: "1234567890", ScenarioType: "new_state"}
			if err := s.Set(ctx, "+1 (555) 123-4567", fields, time.Hour); err != nil {
				t.Fatalf("Set: %v", err)
			}

			// Differently formatted numbers normalize to the same key.
			got, ok, err := s.Get(ctx, "+1-555-123-4567")
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if got != fields {
				t.Fatalf("Get=%+v, want %+v", got, fields)
			}

			if err := s.Delete(ctx, "+15551234567"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, err := s.Get(ctx, "+15551234567"); err != nil || ok {
				t.Fatalf("Get after delete: ok=%v err=%v", ok, err)
			}
			if err := s.Delete(ctx, "+15551234567"); err != nil {
				t.Fatalf("Delete absent: %v", err)
			}
		})
	}
}

func TestStores_RejectInvalidKey(t *testing.T) {
	ctx := context.Background()
	for _, s := range []Store{NewMemory(), newBadgerStore(t)} {
		if err := s.Set(ctx, "unknown", types.CallFields{}, time.Hour); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("%s: Set err=%v, want ErrInvalidKey", s.Backend(), err)
		}
	}
}

func TestRedis_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	if err := s.Set(ctx, "+15551234567", types.CallFields{Payer: "Aetna"}, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("provider_metadata:+15551234567"); ttl != time.Hour {
		t.Fatalf("ttl=%v, want 1h", ttl)
	}
	mr.FastForward(time.Hour + time.Second)
	if _, ok, err := s.Get(ctx, "+15551234567"); err != nil || ok {
		t.Fatalf("Get after expiry: ok=%v err=%v", ok, err)
	}
}

func TestRedis_StoresJSON(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	if err := s.Set(ctx, "5551234567", types.CallFields{TaxID: "12-3456789"}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := mr.Get("provider_metadata:5551234567")
	if err != nil {
		t.Fatalf("miniredis Get: %v", err)
	}
	if raw != `{"tax_id":"12-3456789"}` {
		t.Fatalf("raw=%s", raw)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	s := Open(ctx, Config{RedisEnabled: true, RedisURL: "redis://" + mr.Addr()}, quietLogger())
	defer s.Close()
	if s.Backend() != "redis" {
		t.Fatalf("backend=%q, want redis", s.Backend())
	}

	b := Open(ctx, Config{BadgerDir: t.TempDir()}, quietLogger())
	defer b.Close()
	if b.Backend() != "badger" {
		t.Fatalf("backend=%q, want badger", b.Backend())
	}

	m := Open(ctx, Config{RedisURL: "redis://" + mr.Addr()}, quietLogger())
	if m.Backend() != "memory" {
		t.Fatalf("redis disabled: backend=%q, want memory", m.Backend())
	}
}

func TestOpen_FallsBackToMemoryWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s := Open(ctx, Config{RedisEnabled: true, RedisURL: "redis://" + addr}, quietLogger())
	if s.Backend() != "memory" {
		t.Fatalf("backend=%q, want memory", s.Backend())
	}
}

type failingStore struct{}

func (failingStore) Set(context.Context, string, types.CallFields, time.Duration) error {
	return errors.New("boom")
}

func (failingStore) Get(context.Context, string) (types.CallFields, bool, error) {
	return types.CallFields{ProviderName: "stale"}, true, errors.New("boom")
}

func (failingStore) Delete(context.Context, string) error { return errors.New("boom") }
func (failingStore) Backend() string                      { return "failing" }
func (failingStore) Close() error                         { return nil }

func TestSafe_SwallowsErrors(t *testing.T) {
	ctx := context.Background()
	s := NewSafe(failingStore{}, 0, quietLogger())

	if s.TTL() != DefaultTTL {
		t.Fatalf("ttl=%v, want %v", s.TTL(), DefaultTTL)
	}
	if s.Store(ctx, "+15551234567", types.CallFields{}) {
		t.Fatalf("Store should report false on failure")
	}
	if fields, ok := s.Retrieve(ctx, "+15551234567"); ok || !fields.IsEmpty() {
		t.Fatalf("Retrieve should report absent on failure, got %+v ok=%v", fields, ok)
	}
	if s.Delete(ctx, "+15551234567") {
		t.Fatalf("Delete should report false on failure")
	}
}

func TestSafe_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := NewSafe(mem, time.Minute, quietLogger())

	if !s.Store(ctx, "+15551234567", types.CallFields{Specialty: "Cardiology"}) {
		t.Fatalf("Store failed")
	}
	if mem.Len() != 1 {
		t.Fatalf("len=%d, want 1", mem.Len())
	}
	fields, ok := s.Retrieve(ctx, "15551234567")
	if ok {
		t.Fatalf("keys with and without '+' are distinct, got %+v", fields)
	}
	fields, ok = s.Retrieve(ctx, "+1 555 123 4567")
	if !ok || fields.Specialty != "Cardiology" {
		t.Fatalf("Retrieve=%+v ok=%v", fields, ok)
	}
	if !s.Delete(ctx, "+15551234567") || mem.Len() != 0 {
		t.Fatalf("Delete did not remove entry")
	}
}
