// Package redis provides the run lease that keeps two copies of a worker
// from polling at once, and the gateway's rate limiter.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPrefix namespaces every key when the instance is shared with the website.
const DefaultPrefix = "venue:"

// connectTimeout bounds the startup ping; callers fall back to running
// without Redis when it fails.
const connectTimeout = 3 * time.Second

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Prefix is prepended to every key. Empty means DefaultPrefix.
	Prefix string
}

// Client holds the shared connection used by leases and the rate limiter.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	prefix string
}

// New connects and pings. Workers hold at most a lease and a script call at
// a time, so the pool stays small.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	logger.Info("redis connection established",
		zap.String("addr", addr),
		zap.String("prefix", prefix),
	)

	return &Client{rdb: rdb, logger: logger, prefix: prefix}, nil
}

func (c *Client) key(name string) string {
	return c.prefix + name
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
