package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
)

// SendGridSender emails alerts to the admin through the SendGrid v3 API
type SendGridSender struct {
	http    httpPoster
	baseURL string
	apiKey  string
	to      string
	from    string
	logger  *zap.Logger
}

type SendGridConfig struct {
	BaseURL string
	APIKey  string
	// AdminEmail is both sender and recipient.
	AdminEmail string
	Timeout    time.Duration
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMail struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

func NewSendGridSender(cfg SendGridConfig, logger *zap.Logger) *SendGridSender {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	return &SendGridSender{
		http:    newHTTPPoster("sendgrid", cfg.Timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		to:      cfg.AdminEmail,
		from:    cfg.AdminEmail,
		logger:  logger,
	}
}

// Send emails the alert text with subject "Alert: <type>"
func (s *SendGridSender) Send(ctx context.Context, a *alert.Alert) error {
	mail := sendGridMail{
		From:    sendGridAddress{Email: s.from},
		Subject: a.Subject,
		Content: []sendGridContent{{Type: "text/plain", Value: a.Text}},
	}
	mail.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	mail.Personalizations[0].To = []sendGridAddress{{Email: s.to}}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey)

	if _, err := s.http.postJSON(ctx, s.baseURL+"/v3/mail/send", mail, header); err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}

	s.logger.Info("email sent via SendGrid",
		zap.String("notification_id", a.NotificationID),
		zap.String("to", s.to),
	)
	return nil
}

func (s *SendGridSender) SupportsChannel(channel string) bool {
	return channel == alert.ChannelEmail
}
