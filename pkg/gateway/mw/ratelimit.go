package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-retell/pkg/gateway/apierror"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/gateway/principal"
	"github.com/vango-go/vai-retell/pkg/gateway/ratelimit"
)

// RateLimit throttles admin requests per principal (API key, else client IP).
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principal.Resolve(r, cfg.TrustProxyHeaders)

		dec := limiter.AcquireRequest(p.Key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			apiErr := &apierror.Error{
				Type:      apierror.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			}
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				retryAfter := dec.RetryAfter
				apiErr.RetryAfter = &retryAfter
			}
			writeJSONError(w, http.StatusTooManyRequests, apiErr)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBytes caps request bodies.
func MaxBytes(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}
