package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
	"github.com/redgarden/venue-workers/internal/db"
)

// LogSender logs alerts instead of delivering them (NOTIFY_DRY_RUN).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, a *alert.Alert) error {
	s.logger.Info("dry run: alert not delivered",
		zap.String("notification_id", a.NotificationID),
		zap.String("subject", a.Subject),
		zap.String("text", a.Text),
	)
	return nil
}

// SupportsChannel accepts every single-target channel.
func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == alert.ChannelEmail || channel == alert.ChannelSMS || channel == alert.ChannelTelegram
}

// Push logs the payload that would have gone to the endpoint.
func (s *LogSender) Push(ctx context.Context, endpoint *db.PushEndpoint, payload []byte) error {
	s.logger.Info("dry run: push not delivered",
		zap.String("endpoint", endpoint.Endpoint),
		zap.Any("payload", json.RawMessage(payload)),
	)
	return nil
}
