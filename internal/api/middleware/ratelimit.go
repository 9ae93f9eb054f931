package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcoot/typerace/internal/api/apierr"
)

// idleLimiterTTL is how long an unused limiter is kept before being dropped
const idleLimiterTTL = 10 * time.Minute

// EntryLimiter throttles arena entry attempts per signed-in player so a
// token cannot be brute forced through the gate
type EntryLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewEntryLimiter allows perMinute attempts per player, with a burst of the
// same size. perMinute <= 0 disables limiting.
func NewEntryLimiter(perMinute int) *EntryLimiter {
	l := &EntryLimiter{
		limit:    rate.Inf,
		burst:    1,
		limiters: make(map[string]*limiterEntry),
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

// Allow reports whether the key may make another attempt now
func (l *EntryLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > idleLimiterTTL {
			delete(l.limiters, k)
		}
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429. It must run after
// Auth so the identity is available.
func (l *EntryLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if identity := GetIdentity(r.Context()); identity != nil {
			key = identity.Email
		}
		if !l.Allow(key, time.Now()) {
			apierr.WriteError(w, apierr.NewRateLimitedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}
