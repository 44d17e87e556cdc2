package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/observability"
)

// RateLimitConfig is a fixed-window limit
type RateLimitConfig struct {
	RequestsPerWindow int64
	WindowDuration    time.Duration
}

// DefaultUploadRateLimit allows 30 uploads per minute
func DefaultUploadRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 30, WindowDuration: time.Minute}
}

// RedisRateLimiter counts requests per key in Redis so the limit is shared
// across instances
type RedisRateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed fixed-window limiter
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisRateLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultUploadRateLimit()
	}
	if prefix == "" {
		prefix = "gallery:ratelimit"
	}
	return &RedisRateLimiter{redis: client, config: config, prefix: prefix}
}

func (rl *RedisRateLimiter) key(k string) string {
	return rl.prefix + ":" + k
}

// Allow increments the counter for key and reports whether the request is
// within the limit. On a Redis error it returns true along with the error.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}
	// the first request of a window starts its clock
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.config.RequestsPerWindow, remaining, nil
}

// TTL returns the time until the window for key resets
func (rl *RedisRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// Limit returns the configured requests per window
func (rl *RedisRateLimiter) Limit() int64 {
	return rl.config.RequestsPerWindow
}

// Throttle wraps upload endpoints with the limiter. Authenticated callers are
// keyed by user ID, anonymous ones by client IP. Redis failures let the
// request through.
func Throttle(limiter *RedisRateLimiter, logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := throttleKey(r)

			allowed, remaining, err := limiter.Allow(ctx, key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("upload rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.Limit(), 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				metrics.RecordThrottle()
				retryAfter := limiter.config.WindowDuration
				if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
					retryAfter = ttl
				}
				w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Round(time.Second)/time.Second), 10))
				httputil.WriteTooManyRequests(w, "upload rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func throttleKey(r *http.Request) string {
	if identity := auth.CurrentIdentity(r.Context()); identity != nil {
		return "user:" + strconv.FormatInt(identity.UserID, 10)
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
