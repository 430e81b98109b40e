package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
)

// Sender mirrors the worker.Sender interface to avoid circular imports.
type Sender interface {
	Send(ctx context.Context, a *alert.Alert) error
	SupportsChannel(channel string) bool
}

// ProtectedSender wraps a channel sender with a CircuitBreaker.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger

	// ignore lists errors that say nothing about provider health.
	ignore []error
}

// NewProtectedSender wraps a sender with circuit breaker protection.
// Errors matching any of ignore (via errors.Is) pass through without counting
// as failures.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger, ignore ...error) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
		ignore:  ignore,
	}
}

// Send fails fast with ErrCircuitOpen while the circuit is open.
func (p *ProtectedSender) Send(ctx context.Context, a *alert.Alert) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("channel", p.breaker.Name()),
			zap.String("notification_id", a.NotificationID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	err := p.sender.Send(ctx, a)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case p.ignored(err) || errors.Is(err, context.Canceled):
	default:
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("channel", p.breaker.Name()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedSender) ignored(err error) bool {
	for _, target := range p.ignore {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for end-of-run stats.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
