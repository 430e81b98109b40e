package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/db"
)

// DefaultPushSubscriber is the VAPID contact used when no admin address is set.
const DefaultPushSubscriber = "no-reply@example.com"

// WebPushSender delivers encrypted Web Push messages signed with the VAPID key pair
type WebPushSender struct {
	options webpush.Options
	logger  *zap.Logger
}

type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the admin contact the push service may reach. Empty
	// means DefaultPushSubscriber.
	Subscriber string
	TTL        time.Duration
	Timeout    time.Duration
}

func NewWebPushSender(cfg WebPushConfig, logger *zap.Logger) *WebPushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	subscriber := cfg.Subscriber
	if subscriber == "" {
		subscriber = DefaultPushSubscriber
	}
	return &WebPushSender{
		options: webpush.Options{
			HTTPClient:      &http.Client{Timeout: timeout},
			Subscriber:      subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             int(ttl.Seconds()),
		},
		logger: logger,
	}
}

// Push sends payload to one subscription. A non-2xx answer is returned as
// *PushError so the caller can prune 404/410 endpoints.
func (s *WebPushSender) Push(ctx context.Context, endpoint *db.PushEndpoint, payload []byte) error {
	sub := &webpush.Subscription{
		Endpoint: endpoint.Endpoint,
		Keys: webpush.Keys{
			Auth:   endpoint.Keys.Auth,
			P256dh: endpoint.Keys.P256dh,
		},
	}

	opts := s.options
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &opts)
	if err != nil {
		return fmt.Errorf("web push failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PushError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	s.logger.Debug("push delivered",
		zap.String("endpoint", endpoint.Endpoint),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

// GenerateVAPIDKeys returns a new base64url-encoded key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}
