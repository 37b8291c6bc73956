package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// RedisLimiter enforces limits across processes using Redis + Lua. The
// script runs atomically so concurrent invocations never double-count.
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRedisLimiter creates a Redis-backed rate limiter with embedded Lua script
func NewRedisLimiter(redisClient *redis.Client, logger Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// Allow checks and consumes one slot for the key
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration, strategy string) (*Result, error) {
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}

	redisKey := fmt.Sprintf("rate_limit:%s", key)
	result, err := r.script.Run(ctx, r.redis, []string{redisKey}, limit, windowMS, strategy, time.Now().UnixMilli()).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Parse result array: {allowed, current_count, retry_after_ms}
	arr, ok := result.([]interface{})
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	allowed := arr[0].(int64) == 1
	current := arr[1].(int64)
	retryAfterMS := arr[2].(int64)

	if !allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", current,
			"limit", limit,
			"retry_after_ms", retryAfterMS)
	}

	return &Result{
		Allowed:      allowed,
		CurrentCount: current,
		Limit:        limit,
		RetryAfter:   time.Duration(retryAfterMS) * time.Millisecond,
	}, nil
}

// Reset clears a rate limit counter (for testing/admin)
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.redis.Del(ctx, fmt.Sprintf("rate_limit:%s", key)).Err()
}
