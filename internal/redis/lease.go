package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseHeld means another runner currently owns the lease.
var ErrLeaseHeld = errors.New("lease held by another runner")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lease is an exclusive, expiring claim on a worker name.
type Lease struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLease takes lease:<name> with SET NX PX. It returns ErrLeaseHeld
// when another runner has it.
func (c *Client) AcquireLease(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := c.key("lease:" + name)
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	c.logger.Debug("lease acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	return &Lease{client: c, key: key, token: token, ttl: ttl}, nil
}

// Extend pushes the expiry out by the lease TTL. It returns ErrLeaseHeld if
// the lease expired and someone else took it.
func (l *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis lease extend failed: %w", err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// Release gives the lease up. Releasing a lease that already expired is not an error.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("redis lease release failed: %w", err)
	}
	if n == 0 {
		l.client.logger.Warn("lease expired before release", zap.String("key", l.key))
	}
	return nil
}
