package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

const rateLimiterIdleTTL = 10 * time.Minute

// keyedRateLimiter hands out one token bucket per caller. Buckets idle for longer than
// rateLimiterIdleTTL are dropped on the next allocation.
type keyedRateLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyedRateLimiter returns nil when perMinute is not positive, which disables limiting.
func newKeyedRateLimiter(perMinute, burst int, clock func() time.Time) *keyedRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		l.pruneLocked(now)
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > rateLimiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// Middleware keys the bucket on the authenticated uid, or the client IP for anonymous calls.
func (l *keyedRateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := "ip:" + requestctx.Client(ctx).IP
		if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
			key = "uid:" + identity.UID
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests, please slow down", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *keyedRateLimiter) retryAfterSeconds() int {
	if l.limit <= 0 {
		return 60
	}
	return max(1, int(1/float64(l.limit)+0.5))
}
