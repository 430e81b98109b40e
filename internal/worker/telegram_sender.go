package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
)

// TelegramSender posts alerts to the admin chat through the Bot API.
// The bot token travels in the URL path; there is no auth header.
type TelegramSender struct {
	http    httpPoster
	baseURL string
	token   string
	chatID  string
	logger  *zap.Logger
}

type TelegramConfig struct {
	BaseURL  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func NewTelegramSender(cfg TelegramConfig, logger *zap.Logger) *TelegramSender {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramSender{
		http:    newHTTPPoster("telegram", cfg.Timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		logger:  logger,
	}
}

func (s *TelegramSender) Send(ctx context.Context, a *alert.Alert) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)

	if _, err := s.http.postJSON(ctx, endpoint, telegramMessage{ChatID: s.chatID, Text: a.Text}, nil); err != nil {
		// never log or return the URL, it contains the bot token
		return fmt.Errorf("telegram send failed: %w", redactToken(err, s.token))
	}

	s.logger.Info("message sent via Telegram",
		zap.String("notification_id", a.NotificationID),
		zap.String("chat_id", s.chatID),
	)
	return nil
}

func (s *TelegramSender) SupportsChannel(channel string) bool {
	return channel == alert.ChannelTelegram
}

// redactToken strips the bot token from transport errors, which embed the request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
