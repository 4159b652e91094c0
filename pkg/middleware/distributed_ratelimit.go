package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

// DistributedRateLimiter implements fixed-window rate limiting in Redis so
// limits are shared across server instances
type DistributedRateLimiter struct {
	redis   *redis.Client
	config  *RateLimitConfig
	prefix  string
	metrics *observability.Metrics
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, metrics *observability.Metrics) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:   redisClient,
		config:  config,
		prefix:  prefix,
		metrics: metrics,
	}
}

// Config returns the limiter's configuration
func (rl *DistributedRateLimiter) Config() *RateLimitConfig { return rl.config }

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts the request and reports whether it is within the window's limit.
// On a Redis error it returns true with the error so callers can fail open.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	_, err := pipe.Exec(ctx)
	rl.metrics.RecordRedisCommand("ratelimit_incr", err)
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	// Only the first request of a window (or a key that lost its expiry)
	// sets the TTL, so the window stays fixed.
	if incr.Val() == 1 || ttl.Val() < 0 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			rl.metrics.RecordRedisCommand("ratelimit_expire", err)
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		rl.metrics.RecordRedisCommand("ratelimit_get", err)
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Release uncounts one request in the current window
func (rl *DistributedRateLimiter) Release(ctx context.Context, key string) error {
	redisKey := rl.key(key)
	n, err := rl.redis.Decr(ctx, redisKey).Result()
	rl.metrics.RecordRedisCommand("ratelimit_decr", err)
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	// The window expired between Allow and Release
	if n < 0 {
		return rl.redis.Del(ctx, redisKey).Err()
	}
	return nil
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// NewDistributedRateLimitMiddleware creates a Redis-backed rate limit middleware
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, perKey, anonymous *RateLimitConfig, metrics *observability.Metrics, logger *observability.Logger) *RateLimitMiddleware {
	return NewRateLimitMiddleware(
		NewDistributedRateLimiter(redisClient, perKey, "ratelimit:key", metrics),
		NewDistributedRateLimiter(redisClient, anonymous, "ratelimit:ip", metrics),
		logger,
	)
}
