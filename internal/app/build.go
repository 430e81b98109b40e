// Package app assembles the workers and the gateway from a config.Config.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/circuitbreaker"
	"github.com/redgarden/venue-workers/internal/config"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/invoice"
	"github.com/redgarden/venue-workers/internal/redis"
	"github.com/redgarden/venue-workers/internal/sqs"
	"github.com/redgarden/venue-workers/internal/storage"
	"github.com/redgarden/venue-workers/internal/worker"
)

// OpenStore connects the configured datastore. The returned func closes it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Store, func(), error) {
	switch cfg.DatastoreDriver {
	case "sqlite":
		store, err := db.OpenSQLite(cfg.SQLitePath, cfg.DBQueryTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		database, err := db.New(ctx, db.Config{
			URL:      cfg.DatabaseURL,
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db.NewPostgresStore(database, cfg.DBQueryTimeout), database.Close, nil
	}
}

// OpenRedis returns nil when Redis is not configured or not reachable.
// Callers treat a nil client as "run without lease / rate limit".
func OpenRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisHost == "" {
		return nil
	}
	client, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return client
}

// BuildSenders wires one sender per channel. Channels missing credentials get
// an UnconfiguredSender so only records asking for them fail. The returned
// push sender is nil without VAPID keys.
func BuildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*worker.MultiSender, worker.PushSender, error) {
	if cfg.NotifyDryRun {
		logger.Warn("dry run: notifications are logged, not delivered")
		ls := worker.NewLogSender(logger)
		return worker.NewMultiSender(logger, ls), ls, nil
	}

	email, err := emailSender(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	sms, err := smsSender(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	telegram := telegramSender(cfg, logger)

	senders := []worker.Sender{
		protect("email", email, cfg, logger),
		protect("sms", sms, cfg, logger),
		protect("telegram", telegram, cfg, logger),
	}

	var push worker.PushSender
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		push = worker.NewWebPushSender(worker.WebPushConfig{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.AdminEmail,
			Timeout:         cfg.ChannelTimeout,
		}, logger)
	}

	return worker.NewMultiSender(logger, senders...), push, nil
}

func emailSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (worker.Sender, error) {
	switch cfg.EmailProvider {
	case "ses":
		if cfg.SESFromEmail == "" || cfg.AdminEmail == "" {
			return worker.NewUnconfiguredSender("email", "SES_FROM_EMAIL", "ADMIN_EMAIL"), nil
		}
		return worker.NewSESSender(ctx, worker.SESConfig{
			Region:     cfg.AWSRegion,
			FromEmail:  cfg.SESFromEmail,
			AdminEmail: cfg.AdminEmail,
		}, logger)
	default:
		if cfg.SendGridAPIKey == "" || cfg.AdminEmail == "" {
			return worker.NewUnconfiguredSender("email", "SENDGRID_API_KEY", "ADMIN_EMAIL"), nil
		}
		return worker.NewSendGridSender(worker.SendGridConfig{
			BaseURL:    cfg.SendGridBaseURL,
			APIKey:     cfg.SendGridAPIKey,
			AdminEmail: cfg.AdminEmail,
			Timeout:    cfg.ChannelTimeout,
		}, logger), nil
	}
}

func smsSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (worker.Sender, error) {
	switch cfg.SMSProvider {
	case "sns":
		if cfg.AdminPhone == "" {
			return worker.NewUnconfiguredSender("sms", "ADMIN_PHONE"), nil
		}
		return worker.NewSNSSender(ctx, worker.SNSConfig{
			Region:     cfg.SNSRegion,
			AdminPhone: cfg.AdminPhone,
		}, logger)
	default:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFrom == "" || cfg.AdminPhone == "" {
			return worker.NewUnconfiguredSender("sms",
				"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM", "ADMIN_PHONE"), nil
		}
		return worker.NewTwilioSender(worker.TwilioConfig{
			BaseURL:    cfg.TwilioBaseURL,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
			AdminPhone: cfg.AdminPhone,
			Timeout:    cfg.ChannelTimeout,
		}, logger), nil
	}
}

func telegramSender(cfg *config.Config, logger *zap.Logger) worker.Sender {
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		return worker.NewUnconfiguredSender("telegram", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID")
	}
	return worker.NewTelegramSender(worker.TelegramConfig{
		BaseURL:  cfg.TelegramBaseURL,
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Timeout:  cfg.ChannelTimeout,
	}, logger)
}

// protect puts a breaker in front of real providers. Missing configuration
// is not a provider outage, so it never trips the breaker.
func protect(channel string, s worker.Sender, cfg *config.Config, logger *zap.Logger) worker.Sender {
	if _, ok := s.(*worker.UnconfiguredSender); ok {
		return s
	}
	bc := circuitbreaker.DefaultConfig(channel)
	bc.MaxFailures = cfg.BreakerMaxFailures
	bc.RecoveryTimeout = cfg.BreakerRecovery
	return circuitbreaker.NewProtectedSender(s, circuitbreaker.New(bc, logger), logger, worker.ErrChannelNotConfigured)
}

// NewDispatcher builds the notification dispatcher over store.
func NewDispatcher(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) (*worker.Dispatcher, error) {
	senders, push, err := BuildSenders(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build senders: %w", err)
	}
	return worker.New(db.NewRepository(store, logger), senders, push, worker.Config{
		BatchSize:    cfg.NotifyBatchSize,
		MaxAttempts:  cfg.NotifyMaxAttempts,
		ClaimEnabled: cfg.ClaimEnabled,
		ClaimTimeout: cfg.ClaimTimeout,
	}, logger), nil
}

// NewObjectStore returns the configured invoice bucket.
func NewObjectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case storage.BackendS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Region:        cfg.AWSRegion,
			Bucket:        cfg.StorageBucket,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, logger)
	default:
		return storage.NewSupabaseStore(storage.SupabaseConfig{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Bucket:     cfg.StorageBucket,
		}, logger), nil
	}
}

// NewInvoiceWorker builds the invoice worker over store.
func NewInvoiceWorker(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) (*invoice.Worker, error) {
	tmpl, err := invoice.LoadTemplate(cfg.InvoiceTemplatePath)
	if err != nil {
		return nil, err
	}
	objects, err := NewObjectStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	renderer := invoice.NewLatexRenderer(invoice.RendererConfig{
		Mode:    cfg.RendererMode,
		Binary:  cfg.RendererBinary,
		Image:   cfg.RendererImage,
		WorkDir: cfg.InvoiceWorkDir,
		Timeout: cfg.RendererTimeout,
	}, logger)

	return invoice.NewWorker(db.NewRepository(store, logger), tmpl, renderer, objects, invoice.Config{
		BatchSize:   cfg.InvoiceBatchSize,
		MaxAttempts: cfg.InvoiceMaxAttempts,
		LegacyNotes: cfg.InvoiceLegacyNotes,
	}, logger), nil
}

// WakeUps returns the SQS wake-up channel for worker, or nil when no
// trigger queue is configured.
func WakeUps(ctx context.Context, cfg *config.Config, workerName string, logger *zap.Logger) (<-chan struct{}, error) {
	if cfg.TriggerQueueURL == "" {
		return nil, nil
	}
	consumer, err := sqs.NewConsumer(ctx, sqs.Config{Region: cfg.AWSRegion, QueueURL: cfg.TriggerQueueURL}, workerName, logger)
	if err != nil {
		return nil, fmt.Errorf("trigger queue: %w", err)
	}
	return consumer.Listen(ctx), nil
}
