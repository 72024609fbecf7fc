package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter implements rate limiting using Redis
// This allows rate limits to be shared across multiple instances. It counts
// requests in fixed windows of one second scaled by the configured rate.
type DistributedRateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	window := time.Second
	limit := int64(config.RequestsPerSecond) + int64(config.Burst)
	if config.RequestsPerSecond < 1 {
		// Slow rates count over a longer window instead of rounding to zero.
		window = time.Duration(float64(time.Second) / config.RequestsPerSecond)
		limit = 1 + int64(config.Burst)
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow implements Limiter. The first request of a window starts its expiry.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.window).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
		return true, 0, nil
	}
	if count <= rl.limit {
		return true, 0, nil
	}

	ttl, err := rl.redis.PTTL(ctx, redisKey).Result()
	if err != nil {
		return false, rl.window, nil
	}
	if ttl < 0 {
		// A window left without expiry would never reopen.
		rl.redis.PExpire(ctx, redisKey, rl.window)
		ttl = rl.window
	}
	return false, ttl, nil
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
