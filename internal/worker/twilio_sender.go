package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
)

// TwilioSender texts alerts to the admin phone through the Twilio Messages API
type TwilioSender struct {
	http       httpPoster
	baseURL    string
	accountSID string
	authToken  string
	from       string
	to         string
	logger     *zap.Logger
}

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	AdminPhone string
	Timeout    time.Duration
}

func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &TwilioSender{
		http:       newHTTPPoster("twilio", cfg.Timeout),
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		to:         cfg.AdminPhone,
		logger:     logger,
	}
}

func (s *TwilioSender) Send(ctx context.Context, a *alert.Alert) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))

	form := url.Values{}
	form.Set("To", s.to)
	form.Set("From", s.from)
	form.Set("Body", a.Text)

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(s.accountSID+":"+s.authToken)))

	if _, err := s.http.postForm(ctx, endpoint, form, header); err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}

	s.logger.Info("SMS sent via Twilio",
		zap.String("notification_id", a.NotificationID),
		zap.String("to", s.to),
	)
	return nil
}

func (s *TwilioSender) SupportsChannel(channel string) bool {
	return channel == alert.ChannelSMS
}
