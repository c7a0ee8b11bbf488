package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/faultline-dev/faultline/internal/api/response"
	"github.com/faultline-dev/faultline/internal/cache"
)

// RateLimit provides fixed-window rate limiting via Redis for event
// submission. Limits come from the resolved project key when it carries
// them, otherwise from the configured defaults.
type RateLimit struct {
	cache         cache.Cache
	defaultCount  int
	defaultWindow time.Duration
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, defaultCount int, defaultWindow time.Duration) *RateLimit {
	if defaultCount <= 0 {
		defaultCount = 300
	}
	if defaultWindow <= 0 {
		defaultWindow = time.Minute
	}
	return &RateLimit{cache: c, defaultCount: defaultCount, defaultWindow: defaultWindow}
}

// LimitIngest applies rate limiting keyed by the project key set by DSN
// auth. On Redis failure the request is allowed (fail open): dropping
// events over a cache outage is worse than briefly over-admitting.
func (rl *RateLimit) LimitIngest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := getProjectKey(r)
		if !ok {
			// No project key means DSN auth didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		count := rl.defaultCount
		if key.RateLimitCount != nil && *key.RateLimitCount > 0 {
			count = *key.RateLimitCount
		}
		window := rl.defaultWindow
		if key.RateLimitWindow != nil && *key.RateLimitWindow > 0 {
			window = time.Duration(*key.RateLimitWindow) * time.Second
		}

		seen, err := rl.cache.IncrWithExpiry(r.Context(), cache.IngestRateLimitKey(key.PublicKey), window)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining := count - int(seen)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(window).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(count))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if seen > int64(count) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many events", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LimitAPI applies a fixed per-minute limit keyed by the API key prefix set
// by bearer auth.
func (rl *RateLimit) LimitAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		seen, err := rl.cache.IncrWithExpiry(r.Context(), cache.APIRateLimitKey(prefix), time.Minute)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if seen > int64(rl.defaultCount) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
