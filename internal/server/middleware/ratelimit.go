package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/3leaps/vidsentry/internal/apperrors"
)

// RateLimiter throttles requests per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	limiters sync.Map // client -> *cachedLimiter
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithTTL sets how long an idle client's limiter is kept.
func WithTTL(ttl time.Duration) RateLimitOption {
	return func(r *RateLimiter) { r.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RateLimitOption {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int, opts ...RateLimitOption) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware returns the limiting handler wrapper.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit > 0 && !rl.get(clientKey(r)).AllowN(rl.now(), 1) {
				w.Header().Set("Retry-After", "1")
				apperrors.Write(w, r, http.StatusTooManyRequests, apperrors.CodeRateLimited,
					"too many job submissions, retry shortly", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
