package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
	"github.com/redgarden/venue-workers/internal/circuitbreaker"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/metrics"
)

type Repository interface {
	GetPendingNotifications(ctx context.Context, limit int) ([]*db.Notification, error)
	ClaimNotification(ctx context.Context, id uuid.UUID, claimedBy string) (bool, error)
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID) error
	RecordNotificationFailure(ctx context.Context, id uuid.UUID, attempts int, errMsg string, park bool) error
	ListPushSubscriptions(ctx context.Context) ([]*db.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id uuid.UUID) error
}

// Dispatcher drains the notifications outbox, one record at a time.
type Dispatcher struct {
	repo    Repository
	senders *MultiSender
	push    PushSender
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

type Config struct {
	BatchSize int
	// MaxAttempts parks a record as failed once reached. Zero retries forever.
	MaxAttempts  int
	ClaimEnabled bool
	ClaimTimeout time.Duration
	// RunnerID is stamped into claimed_by.
	RunnerID string
}

// BatchResult summarizes one RunOnce.
type BatchResult struct {
	Selected int
	Sent     int
	Failed   int
	Parked   int
	Skipped  int
}

// New builds a dispatcher. push may be nil when no VAPID keys are
// configured; the push channel is then skipped with a warning.
func New(repo Repository, senders *MultiSender, push PushSender, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = 10 * time.Minute
	}
	if cfg.RunnerID == "" {
		cfg.RunnerID = "dispatcher-" + uuid.NewString()[:8]
	}

	return &Dispatcher{
		repo:    repo,
		senders: senders,
		push:    push,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (d *Dispatcher) Name() string { return "dispatcher" }

// RunOnce processes one batch. Only a failure to read the batch is returned.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	_, err := d.Run(ctx)
	return err
}

// OnWake closes the channel circuit breakers before an on-demand run.
func (d *Dispatcher) OnWake() {
	d.senders.ResetBreakers()
}

// Run processes one batch and reports what happened to it.
func (d *Dispatcher) Run(ctx context.Context) (BatchResult, error) {
	start := d.now()
	var result BatchResult

	if d.config.ClaimEnabled {
		cutoff := start.Add(-d.config.ClaimTimeout)
		if _, err := d.repo.ReleaseStaleClaims(ctx, cutoff); err != nil {
			d.logger.Warn("failed to release stale claims", zap.Error(err))
		}
	}

	notifications, err := d.repo.GetPendingNotifications(ctx, d.config.BatchSize)
	if err != nil {
		d.logger.Error("failed to get pending notifications", zap.Error(err))
		return result, fmt.Errorf("fetch pending notifications: %w", err)
	}
	result.Selected = len(notifications)

	for _, notif := range notifications {
		if ctx.Err() != nil {
			d.logger.Warn("run cancelled, leaving remaining notifications pending",
				zap.Int("remaining", result.Selected-result.Sent-result.Failed-result.Parked-result.Skipped),
			)
			break
		}
		switch d.processNotification(ctx, notif) {
		case db.StatusSent:
			result.Sent++
		case db.StatusFailed:
			result.Parked++
		case db.StatusPending:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	for _, s := range d.senders.BreakerStats() {
		if s.TotalRejected > 0 || s.State != "closed" {
			d.logger.Warn("channel circuit breaker tripped during run",
				zap.String("channel", s.Name),
				zap.String("state", s.State),
				zap.Int64("rejected", s.TotalRejected),
			)
		}
	}

	metrics.RecordRun(d.Name(), result.Selected, d.now().Sub(start))
	d.logger.Info("dispatch run complete",
		zap.Int("selected", result.Selected),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("parked", result.Parked),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// processNotification delivers one record and writes its outcome. It returns
// the status written, or "" when the record was skipped.
func (d *Dispatcher) processNotification(ctx context.Context, notif *db.Notification) string {
	log := d.logger.With(
		zap.String("notification_id", notif.ID.String()),
		zap.String("type", notif.Type),
	)

	a := alert.Compose(notif.Type, notif.Payload.Raw())
	a.NotificationID = notif.ID.String()

	channels, unknown := alert.ParseChannels(notif.ChannelList())
	if len(unknown) > 0 {
		log.Warn("ignoring unknown channels", zap.Strings("unknown", unknown))
	}

	if d.config.ClaimEnabled {
		claimed, err := d.repo.ClaimNotification(ctx, notif.ID, d.config.RunnerID)
		if err != nil {
			log.Error("failed to claim notification", zap.Error(err))
			return ""
		}
		if !claimed {
			log.Info("notification claimed by another runner, skipping")
			return ""
		}
	}

	sendErr := d.deliver(ctx, a, channels, log)

	// The outcome is written even if the run is being cancelled.
	writeCtx := context.WithoutCancel(ctx)

	if sendErr == nil {
		if err := d.repo.MarkNotificationSent(writeCtx, notif.ID); err != nil {
			log.Error("failed to mark notification sent", zap.Error(err))
			return ""
		}
		log.Info("notification sent", zap.Strings("channels", channels))
		metrics.RecordNotificationProcessed(db.StatusSent)
		return db.StatusSent
	}

	// A fast-failed send never reached the provider and does not count
	// toward parking.
	attempts := notif.Attempts
	park := false
	if !errors.Is(sendErr, circuitbreaker.ErrCircuitOpen) {
		attempts++
		park = d.config.MaxAttempts > 0 && attempts >= d.config.MaxAttempts
	}
	log.Error("failed to send notification",
		zap.Error(sendErr),
		zap.Int("attempt", attempts),
		zap.Bool("parked", park),
	)
	if err := d.repo.RecordNotificationFailure(writeCtx, notif.ID, attempts, sendErr.Error(), park); err != nil {
		log.Error("failed to record notification failure", zap.Error(err))
		return ""
	}

	status := db.StatusPending
	if park {
		status = db.StatusFailed
	}
	metrics.RecordNotificationProcessed(status)
	return status
}

// deliver attempts channels in order. Push never fails the record; the first
// email/sms/telegram error stops the remaining channels and is returned.
func (d *Dispatcher) deliver(ctx context.Context, a *alert.Alert, channels []string, log *zap.Logger) error {
	for _, channel := range channels {
		if channel == alert.ChannelPush {
			d.sendPush(ctx, a, log)
			continue
		}

		if err := d.senders.Send(ctx, channel, a); err != nil {
			metrics.RecordChannelSend(channel, "error")
			return fmt.Errorf("%s: %w", channel, err)
		}
		metrics.RecordChannelSend(channel, "ok")
	}
	return nil
}

func (d *Dispatcher) sendPush(ctx context.Context, a *alert.Alert, log *zap.Logger) {
	if d.push == nil {
		log.Warn("push channel not configured (VAPID keys missing), skipping")
		metrics.RecordChannelSend(alert.ChannelPush, "skipped")
		return
	}

	subs, err := d.repo.ListPushSubscriptions(ctx)
	if err != nil {
		log.Error("failed to list push subscriptions", zap.Error(err))
		metrics.RecordChannelSend(alert.ChannelPush, "error")
		return
	}

	for _, sub := range subs {
		subLog := log.With(zap.String("subscription_id", sub.ID.String()))

		endpoint, err := sub.Endpoint()
		if err != nil {
			subLog.Warn("skipping malformed push subscription", zap.Error(err))
			continue
		}

		err = d.push.Push(ctx, endpoint, a.PushPayload)
		if err == nil {
			metrics.RecordChannelSend(alert.ChannelPush, "ok")
			continue
		}
		metrics.RecordChannelSend(alert.ChannelPush, "error")

		if IsGone(err) {
			if delErr := d.repo.DeletePushSubscription(context.WithoutCancel(ctx), sub.ID); delErr != nil {
				subLog.Error("failed to delete dead push subscription", zap.Error(delErr))
				continue
			}
			metrics.RecordSubscriptionPruned()
			subLog.Info("deleted dead push subscription", zap.Error(err))
			continue
		}
		subLog.Warn("push send failed", zap.Error(err))
	}
}
