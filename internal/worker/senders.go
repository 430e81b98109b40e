package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
	"github.com/redgarden/venue-workers/internal/circuitbreaker"
	"github.com/redgarden/venue-workers/internal/db"
)

// ErrChannelNotConfigured is returned by every send on a channel whose
// credentials are missing. The error text names the missing variables.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Sender is the unified interface for the single-target channels
// Implementations: SendGrid/SES (email), Twilio/SNS (sms), Telegram
type Sender interface {
	Send(ctx context.Context, a *alert.Alert) error
	SupportsChannel(channel string) bool
}

// PushSender delivers one payload to one browser endpoint.
type PushSender interface {
	Push(ctx context.Context, endpoint *db.PushEndpoint, payload []byte) error
}

// MultiSender routes alerts to the sender registered for a channel
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router that uses multiple underlying senders.
// Earlier senders win when two support the same channel.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the alert to the sender for channel
func (m *MultiSender) Send(ctx context.Context, channel string, a *alert.Alert) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			m.logger.Debug("routing alert to sender",
				zap.String("channel", channel),
				zap.String("notification_id", a.NotificationID),
			)
			return sender.Send(ctx, a)
		}
	}

	return fmt.Errorf("%w: no sender registered for %s", ErrChannelNotConfigured, channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// ResetBreakers closes every circuit breaker wrapping a routed sender.
func (m *MultiSender) ResetBreakers() {
	for _, sender := range m.senders {
		if ps, ok := sender.(*circuitbreaker.ProtectedSender); ok {
			ps.Breaker().Reset()
		}
	}
}

// BreakerStats reports the state of each protected sender.
func (m *MultiSender) BreakerStats() []circuitbreaker.Stats {
	var stats []circuitbreaker.Stats
	for _, sender := range m.senders {
		if ps, ok := sender.(*circuitbreaker.ProtectedSender); ok {
			stats = append(stats, ps.Breaker().Stats())
		}
	}
	return stats
}

// UnconfiguredSender stands in for a channel whose credentials are missing.
// Only records that request the channel fail; startup does not.
type UnconfiguredSender struct {
	channel string
	missing []string
}

func NewUnconfiguredSender(channel string, missing ...string) *UnconfiguredSender {
	return &UnconfiguredSender{channel: channel, missing: missing}
}

func (s *UnconfiguredSender) Send(ctx context.Context, a *alert.Alert) error {
	return fmt.Errorf("%w: %s requires %s", ErrChannelNotConfigured, s.channel, strings.Join(s.missing, ", "))
}

func (s *UnconfiguredSender) SupportsChannel(channel string) bool {
	return channel == s.channel
}

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned non-2xx status: %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// PushError is a non-2xx answer from a browser push service.
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push service returned non-2xx status: %d, body: %s", e.StatusCode, e.Body)
}

// Gone reports whether the endpoint no longer exists and should be pruned.
func (e *PushError) Gone() bool {
	return e.StatusCode == 404 || e.StatusCode == 410
}

// IsGone reports whether err came from a push endpoint that no longer exists.
func IsGone(err error) bool {
	var pe *PushError
	return errors.As(err, &pe) && pe.Gone()
}
