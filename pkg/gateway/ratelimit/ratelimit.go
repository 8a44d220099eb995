// Package ratelimit throttles admin requests per caller and caps the number
// of live call sessions for the process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	// Per-caller request budget for admin endpoints.
	RPS                   float64
	Burst                 int
	MaxConcurrentRequests int

	// MaxConcurrentCalls caps live call sessions process-wide; zero is unlimited.
	MaxConcurrentCalls int

	// Bounds for the in-memory caller table (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	callers map[string]*caller

	// calls is nil when calls are unlimited.
	calls chan struct{}
}

type caller struct {
	mu       sync.Mutex
	tokens   float64
	refilled time.Time

	inflight chan struct{}
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		callers: make(map[string]*caller),
	}
	if cfg.MaxConcurrentCalls > 0 {
		l.calls = make(chan struct{}, cfg.MaxConcurrentCalls)
	}
	return l
}

// PrincipalKeyFromAPIKey buckets a caller by a hash of its key so the key
// itself never sits in the table.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

func PrincipalKeyFromIP(ip string) string {
	return "ip_" + ip
}

type Permit struct {
	release func()
}

// Release is idempotent and safe on a nil Permit.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func allowed(release func()) Decision {
	return Decision{Allowed: true, Permit: &Permit{release: release}}
}

func noop() {}

// AcquireRequest spends one token from the caller's bucket and takes an
// in-flight slot. The permit must be released when the request finishes.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}
	c := l.caller(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := c.take(now, l.cfg.RPS, float64(l.cfg.Burst)); !ok {
			return Decision{RetryAfter: retryAfter}
		}
	}

	if c.inflight == nil {
		return allowed(noop)
	}
	select {
	case c.inflight <- struct{}{}:
		return allowed(func() { <-c.inflight })
	default:
		return Decision{RetryAfter: 1}
	}
}

// AcquireCall reserves a live call slot. The permit must be released when
// the call ends.
func (l *Limiter) AcquireCall() Decision {
	if l == nil || l.calls == nil {
		return allowed(noop)
	}
	select {
	case l.calls <- struct{}{}:
		return allowed(func() { <-l.calls })
	default:
		return Decision{RetryAfter: 1}
	}
}

// ActiveCalls reports how many call slots are held.
func (l *Limiter) ActiveCalls() int {
	if l == nil || l.calls == nil {
		return 0
	}
	return len(l.calls)
}

func (l *Limiter) caller(principal string, now time.Time) *caller {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.callers[principal]; ok {
		c.lastSeen = now
		return c
	}

	if len(l.callers) >= l.cfg.MaxEntries {
		for k, c := range l.callers {
			if now.Sub(c.lastSeen) > l.cfg.EntryTTL {
				delete(l.callers, k)
			}
		}
		// Still full: evict an arbitrary entry to keep memory bounded.
		if len(l.callers) >= l.cfg.MaxEntries {
			for k := range l.callers {
				delete(l.callers, k)
				break
			}
		}
	}

	c := &caller{lastSeen: now, refilled: now, tokens: float64(l.cfg.Burst)}
	if l.cfg.MaxConcurrentRequests > 0 {
		c.inflight = make(chan struct{}, l.cfg.MaxConcurrentRequests)
	}
	l.callers[principal] = c
	return c
}

// take refills the bucket for the time since the last call and spends one
// token. When empty it returns the whole seconds until a token is available.
func (c *caller) take(now time.Time, rps, capacity float64) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := now.Sub(c.refilled).Seconds(); elapsed > 0 {
		c.tokens = math.Min(capacity, c.tokens+elapsed*rps)
		c.refilled = now
	}
	if c.tokens >= 1 {
		c.tokens--
		return true, 0
	}
	return false, max(1, int(math.Ceil((1-c.tokens)/rps)))
}
