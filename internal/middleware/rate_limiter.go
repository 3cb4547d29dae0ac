// file: internal/middleware/rate_limiter.go
package middleware

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"recycloai/internal/cache"
	"recycloai/internal/contextutils"
	"recycloai/internal/response"
	"recycloai/internal/services"
)

// RateLimiterConfig holds rate limiting configuration
type RateLimiterConfig struct {
	Limit  int
	Window time.Duration
	// Prefix namespaces the counters in the shared cache
	Prefix string
}

// RateLimitResult is the outcome of one limit check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

const rateLimitStripes = 64

// RateLimiter is a fixed window limiter keyed by the authenticated user, or
// the client address for anonymous calls. Counters live in the cache so
// replicas sharing redis share limits. Cache failures let requests through.
// Checks for one key are serialized within a process; across replicas the
// read and write of a counter are not atomic.
type RateLimiter struct {
	cache   cache.Cache
	config  RateLimiterConfig
	builder *response.Builder
	logger  *zap.Logger
	now     func() time.Time
	locks   [rateLimitStripes]sync.Mutex
}

// NewRateLimiter creates a limiter. A non-positive limit disables it.
func NewRateLimiter(c cache.Cache, config RateLimiterConfig, builder *response.Builder, logger *zap.Logger) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Prefix == "" {
		config.Prefix = "ratelimit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{cache: c, config: config, builder: builder, logger: logger, now: time.Now}
}

// Limit wraps next with the limiter
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cache == nil || rl.config.Limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		subject := contextutils.GetUserID(r.Context())
		if subject == "" {
			subject = "ip:" + getClientIP(r)
		}

		result := rl.checkFixedWindow(r.Context(), subject)
		rl.writeRateLimitHeaders(w, result)
		if !result.Allowed {
			retry := int(result.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			GetRequestLogger(r.Context()).Info("Rate limit exceeded", zap.String("subject", subject))
			rl.builder.WriteError(w, r, services.NewRateLimitError("too many scans, slow down", retry))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) checkFixedWindow(ctx context.Context, subject string) *RateLimitResult {
	now := rl.now()
	windowStart := now.Truncate(rl.config.Window)
	key := fmt.Sprintf("%s:%s:%d", rl.config.Prefix, subject, windowStart.Unix())
	resetTime := windowStart.Add(rl.config.Window)

	mu := rl.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	count, err := rl.getCount(ctx, key)
	if err != nil {
		rl.logger.Warn("Rate limiter cache unavailable, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: rl.config.Limit, Remaining: rl.config.Limit, ResetTime: resetTime}
	}

	allowed := count < rl.config.Limit
	if allowed {
		count++
		if err := rl.cache.Set(ctx, key, []byte(strconv.Itoa(count)), rl.config.Window); err != nil {
			rl.logger.Warn("Failed to store rate limit counter", zap.Error(err))
		}
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      rl.config.Limit,
		Remaining:  max(rl.config.Limit-count, 0),
		ResetTime:  resetTime,
		RetryAfter: resetTime.Sub(now),
	}
}

func (rl *RateLimiter) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &rl.locks[h.Sum32()%rateLimitStripes]
}

func (rl *RateLimiter) getCount(ctx context.Context, key string) (int, error) {
	raw, ok, err := rl.cache.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (rl *RateLimiter) writeRateLimitHeaders(w http.ResponseWriter, result *RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
}
