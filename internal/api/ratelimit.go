package api

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a per-IP token bucket refilled at perMinute tokens a
// minute.
type RateLimiter struct {
	perMinute       int
	ipLimits        map[string]*IPLimit
	ipMu            sync.Mutex
	lastCleanup     time.Time
	cleanupInterval time.Duration
	ipLimitTTL      time.Duration
	now             func() time.Time
}

type IPLimit struct {
	tokens     int
	lastRefill time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute:       perMinute,
		ipLimits:        make(map[string]*IPLimit),
		lastCleanup:     time.Now(),
		cleanupInterval: 5 * time.Minute,
		ipLimitTTL:      10 * time.Minute,
		now:             time.Now,
	}
}

// SetCleanupPolicy overrides cleanup interval and TTL (mainly for tests).
func (rl *RateLimiter) SetCleanupPolicy(cleanupInterval, ipLimitTTL time.Duration) {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()
	rl.cleanupInterval = cleanupInterval
	rl.ipLimitTTL = ipLimitTTL
	rl.lastCleanup = rl.now()
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()

	now := rl.now()
	if rl.cleanupInterval > 0 && rl.ipLimitTTL > 0 && now.Sub(rl.lastCleanup) >= rl.cleanupInterval {
		for key, limit := range rl.ipLimits {
			if now.Sub(limit.lastRefill) >= rl.ipLimitTTL {
				delete(rl.ipLimits, key)
			}
		}
		rl.lastCleanup = now
	}

	limit, exists := rl.ipLimits[ip]
	if !exists {
		limit = &IPLimit{tokens: rl.perMinute, lastRefill: now}
		rl.ipLimits[ip] = limit
	}

	elapsed := now.Sub(limit.lastRefill)
	if elapsed >= time.Second {
		tokensToAdd := int(elapsed.Seconds() * float64(rl.perMinute) / 60.0)
		if tokensToAdd > 0 {
			limit.tokens += tokensToAdd
			if limit.tokens > rl.perMinute {
				limit.tokens = rl.perMinute
			}
			limit.lastRefill = now
		}
	}

	if limit.tokens > 0 {
		limit.tokens--
		return true
	}
	return false
}

// RateLimitMiddleware limits every request it wraps.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "60")
				respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
