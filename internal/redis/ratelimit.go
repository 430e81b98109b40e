package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests per window
	Window time.Duration // Window length
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts requests per key in fixed windows with INCR.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow counts one request against key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN counts n requests against key. Rejected requests still count, so a
// client hammering the endpoint stays blocked until the window rolls over.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	window := now.UnixNano() / int64(r.config.Window)
	resetAt := time.Unix(0, (window+1)*int64(r.config.Window))

	redisKey := r.client.key(fmt.Sprintf("ratelimit:%s:%d", key, window))

	pipe := r.client.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, redisKey, int64(n))
	pipe.PExpire(ctx, redisKey, r.config.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	count := int(incr.Val())
	remaining := max(0, r.config.Limit-count)

	if count > r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", count),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{Allowed: false, Remaining: remaining, ResetAt: resetAt}, nil
	}
	return &RateLimitResult{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}
