package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/metrics"
	"github.com/redgarden/venue-workers/internal/redis"
)

// Job is one poll-process-update cycle.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// waker is implemented by jobs that reset state before an on-demand run.
type waker interface {
	OnWake()
}

// Lease is a held run lease.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Leaser hands out run leases. It returns redis.ErrLeaseHeld when another
// runner owns the lease.
type Leaser interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// RedisLeaser adapts *redis.Client to Leaser.
type RedisLeaser struct {
	Client *redis.Client
}

func (l RedisLeaser) AcquireLease(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	lease, err := l.Client.AcquireLease(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

type RunnerConfig struct {
	Interval       time.Duration
	LeaseTTL       time.Duration
	PushgatewayURL string
}

// Runner executes a Job once or in a loop, guarded by the run lease.
type Runner struct {
	job    Job
	leaser Leaser // nil runs without a lease
	config RunnerConfig
	logger *zap.Logger
}

func NewRunner(job Job, leaser Leaser, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &Runner{
		job:    job,
		leaser: leaser,
		config: cfg,
		logger: logger.With(zap.String("worker", job.Name())),
	}
}

// Once runs a single cycle. A lease held elsewhere is not an error.
func (r *Runner) Once(ctx context.Context) error {
	lease, err := r.acquire(ctx)
	if errors.Is(err, redis.ErrLeaseHeld) {
		r.logger.Info("another runner holds the lease, skipping")
		return nil
	}

	if lease != nil {
		stop := r.keepAlive(ctx, lease)
		defer func() {
			stop()
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("failed to release lease", zap.Error(err))
			}
		}()
	}

	runErr := r.job.RunOnce(ctx)

	if err := metrics.Push(r.config.PushgatewayURL, r.job.Name()); err != nil {
		r.logger.Warn("metrics push failed", zap.Error(err))
	}
	return runErr
}

// Loop runs a cycle immediately, then on every tick and on every wake-up
// until ctx is done. wake may be nil. Cycle errors are logged, not returned.
func (r *Runner) Loop(ctx context.Context, wake <-chan struct{}) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("worker loop started", zap.Duration("interval", r.config.Interval))
	r.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker loop stopped")
			return nil
		case <-ticker.C:
			r.cycle(ctx)
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			r.logger.Info("wake-up received")
			if w, ok := r.job.(waker); ok {
				w.OnWake()
			}
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := r.Once(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("run failed", zap.Error(err))
	}
}

// acquire returns a nil lease with a nil error when leasing is unavailable.
func (r *Runner) acquire(ctx context.Context) (Lease, error) {
	if r.leaser == nil {
		return nil, nil
	}
	lease, err := r.leaser.AcquireLease(ctx, r.job.Name(), r.config.LeaseTTL)
	if errors.Is(err, redis.ErrLeaseHeld) {
		return nil, err
	}
	if err != nil {
		r.logger.Warn("lease unavailable, running without it", zap.Error(err))
		return nil, nil
	}
	return lease, nil
}

// keepAlive extends the lease at a third of its TTL until stop is called.
func (r *Runner) keepAlive(ctx context.Context, lease Lease) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.config.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Extend(ctx); err != nil {
					r.logger.Warn("failed to extend lease", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
