package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingConfig is wrapped by every validation failure so callers can
// tell configuration errors apart from runtime errors.
var ErrMissingConfig = errors.New("missing required configuration")

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Datastore
	DatastoreDriver string // postgres or sqlite
	DatabaseURL     string
	DBHost          string
	DBPort          int
	DBUser          string
	DBPassword      string
	DBName          string
	DBSSLMode       string
	SQLitePath      string
	DBQueryTimeout  time.Duration

	// Supabase platform (storage API + JWT verification)
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Redis config (run lease, gateway rate limiting). Empty host disables Redis.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion       string
	SESFromEmail    string
	SNSRegion       string
	TriggerQueueURL string // SQS queue carrying worker wake-up messages

	// Email channel
	EmailProvider   string // sendgrid or ses
	SendGridAPIKey  string
	SendGridBaseURL string
	AdminEmail      string

	// SMS channel
	SMSProvider      string // twilio or sns
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioBaseURL    string
	AdminPhone       string

	// Telegram channel
	TelegramBotToken string
	TelegramChatID   string
	TelegramBaseURL  string

	// Web push (VAPID)
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	ChannelTimeout     time.Duration
	BreakerMaxFailures int
	BreakerRecovery    time.Duration

	// Notification dispatcher
	NotifyBatchSize   int
	NotifyMaxAttempts int  // 0 means retry forever
	NotifyDryRun      bool // log instead of calling providers
	ClaimEnabled      bool
	ClaimTimeout      time.Duration
	PollInterval      time.Duration

	// Invoice worker
	InvoiceBatchSize    int
	InvoiceMaxAttempts  int
	InvoiceLegacyNotes  bool
	InvoiceTemplatePath string
	InvoiceWorkDir      string
	RendererMode        string // local or docker
	RendererBinary      string
	RendererImage       string
	RendererTimeout     time.Duration

	// Object storage
	StorageBackend  string // supabase or s3
	StorageBucket   string
	S3Endpoint      string
	S3PublicBaseURL string

	PushgatewayURL string
}

// LoadEnvFile loads a dotenv file into the process environment. A missing
// file is not an error; variables already set are never overridden.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DatastoreDriver: "postgres",
		DBPort:          5432,
		DBUser:          "postgres",
		DBName:          "postgres",
		DBSSLMode:       "require",
		DBQueryTimeout:  10 * time.Second,

		RedisPort: 6379,

		AWSRegion: "us-east-1",

		EmailProvider:   "sendgrid",
		SendGridBaseURL: "https://api.sendgrid.com",
		SMSProvider:     "twilio",
		TwilioBaseURL:   "https://api.twilio.com",
		TelegramBaseURL: "https://api.telegram.org",

		ChannelTimeout:     15 * time.Second,
		BreakerMaxFailures: 5,
		BreakerRecovery:    30 * time.Second,

		NotifyBatchSize: 50,
		ClaimTimeout:    10 * time.Minute,
		PollInterval:    15 * time.Second,

		InvoiceBatchSize:   10,
		InvoiceLegacyNotes: true,
		RendererMode:       "docker",
		RendererBinary:     "pdflatex",
		RendererImage:      "blang/latex:ctanfull",
		RendererTimeout:    2 * time.Minute,

		StorageBackend: "supabase",
		StorageBucket:  "invoices",
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	// Datastore config
	cfg.DatastoreDriver = strings.ToLower(stringEnv("DATASTORE_DRIVER", cfg.DatastoreDriver))
	cfg.DatabaseURL = stringEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)
	cfg.SQLitePath = stringEnv("SQLITE_PATH", cfg.SQLitePath)
	if cfg.DBQueryTimeout, err = secondsEnv("DB_QUERY_TIMEOUT", cfg.DBQueryTimeout); err != nil {
		return nil, err
	}

	cfg.SupabaseURL = strings.TrimRight(stringEnv("SUPABASE_URL", cfg.SupabaseURL), "/")
	cfg.SupabaseServiceKey = stringEnv("SUPABASE_SERVICE_KEY", cfg.SupabaseServiceKey)
	cfg.SupabaseJWTSecret = stringEnv("SUPABASE_JWT_SECRET", cfg.SupabaseJWTSecret)

	// Redis config
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SNSRegion = stringEnv("SNS_REGION", cfg.AWSRegion)
	cfg.TriggerQueueURL = stringEnv("TRIGGER_QUEUE_URL", cfg.TriggerQueueURL)

	// Channels
	cfg.EmailProvider = strings.ToLower(stringEnv("EMAIL_PROVIDER", cfg.EmailProvider))
	cfg.SendGridAPIKey = stringEnv("SENDGRID_API_KEY", cfg.SendGridAPIKey)
	cfg.SendGridBaseURL = stringEnv("SENDGRID_BASE_URL", cfg.SendGridBaseURL)
	cfg.AdminEmail = stringEnv("ADMIN_EMAIL", cfg.AdminEmail)

	cfg.SMSProvider = strings.ToLower(stringEnv("SMS_PROVIDER", cfg.SMSProvider))
	cfg.TwilioAccountSID = stringEnv("TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID)
	cfg.TwilioAuthToken = stringEnv("TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken)
	cfg.TwilioFrom = stringEnv("TWILIO_FROM", cfg.TwilioFrom)
	cfg.TwilioBaseURL = stringEnv("TWILIO_BASE_URL", cfg.TwilioBaseURL)
	cfg.AdminPhone = stringEnv("ADMIN_PHONE", cfg.AdminPhone)

	cfg.TelegramBotToken = stringEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	cfg.TelegramChatID = stringEnv("TELEGRAM_CHAT_ID", cfg.TelegramChatID)
	cfg.TelegramBaseURL = stringEnv("TELEGRAM_BASE_URL", cfg.TelegramBaseURL)

	cfg.VAPIDPublicKey = stringEnv("VAPID_PUBLIC_KEY", cfg.VAPIDPublicKey)
	cfg.VAPIDPrivateKey = stringEnv("VAPID_PRIVATE_KEY", cfg.VAPIDPrivateKey)

	if cfg.ChannelTimeout, err = secondsEnv("CHANNEL_TIMEOUT", cfg.ChannelTimeout); err != nil {
		return nil, err
	}
	if cfg.BreakerMaxFailures, err = intEnv("BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return nil, err
	}
	if cfg.BreakerRecovery, err = secondsEnv("BREAKER_RECOVERY_TIMEOUT", cfg.BreakerRecovery); err != nil {
		return nil, err
	}

	// Dispatcher
	if cfg.NotifyBatchSize, err = intEnv("NOTIFY_BATCH_SIZE", cfg.NotifyBatchSize); err != nil {
		return nil, err
	}
	if cfg.NotifyMaxAttempts, err = intEnv("NOTIFY_MAX_ATTEMPTS", cfg.NotifyMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.NotifyDryRun, err = boolEnv("NOTIFY_DRY_RUN", cfg.NotifyDryRun); err != nil {
		return nil, err
	}
	if cfg.ClaimEnabled, err = boolEnv("CLAIM_ENABLED", cfg.ClaimEnabled); err != nil {
		return nil, err
	}
	if cfg.ClaimTimeout, err = secondsEnv("CLAIM_TIMEOUT", cfg.ClaimTimeout); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = secondsEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}

	// Invoice worker
	if cfg.InvoiceBatchSize, err = intEnv("INVOICE_BATCH_SIZE", cfg.InvoiceBatchSize); err != nil {
		return nil, err
	}
	if cfg.InvoiceMaxAttempts, err = intEnv("INVOICE_MAX_ATTEMPTS", cfg.InvoiceMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.InvoiceLegacyNotes, err = boolEnv("INVOICE_LEGACY_NOTES", cfg.InvoiceLegacyNotes); err != nil {
		return nil, err
	}
	cfg.InvoiceTemplatePath = stringEnv("INVOICE_TEMPLATE_PATH", cfg.InvoiceTemplatePath)
	cfg.InvoiceWorkDir = stringEnv("INVOICE_WORK_DIR", cfg.InvoiceWorkDir)
	cfg.RendererMode = strings.ToLower(stringEnv("RENDERER_MODE", cfg.RendererMode))
	cfg.RendererBinary = stringEnv("RENDERER_BINARY", cfg.RendererBinary)
	cfg.RendererImage = stringEnv("RENDERER_IMAGE", cfg.RendererImage)
	if cfg.RendererTimeout, err = secondsEnv("RENDERER_TIMEOUT", cfg.RendererTimeout); err != nil {
		return nil, err
	}

	cfg.StorageBackend = strings.ToLower(stringEnv("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.StorageBucket = stringEnv("STORAGE_BUCKET", cfg.StorageBucket)
	cfg.S3Endpoint = stringEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3PublicBaseURL = strings.TrimRight(stringEnv("S3_PUBLIC_BASE_URL", cfg.S3PublicBaseURL), "/")

	cfg.PushgatewayURL = stringEnv("PUSHGATEWAY_URL", cfg.PushgatewayURL)

	return cfg, nil
}

// ValidateDatastore checks the settings every binary needs to reach the datastore.
func (c *Config) ValidateDatastore() error {
	var missing []string
	switch c.DatastoreDriver {
	case "postgres":
		if c.DatabaseURL == "" && c.DBHost == "" {
			missing = append(missing, "DATABASE_URL (or DB_HOST)")
		}
		if c.DatabaseURL == "" && c.DBHost != "" && c.DBPassword == "" {
			missing = append(missing, "DB_PASSWORD")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("%w: unsupported DATASTORE_DRIVER %q", ErrMissingConfig, c.DatastoreDriver)
	}
	return missingErr(missing)
}

// ValidateDispatcher checks startup requirements for the notification dispatcher.
// Channel credentials are deliberately not required here: an unconfigured
// channel fails only the records that ask for it.
func (c *Config) ValidateDispatcher() error {
	if err := c.ValidateDatastore(); err != nil {
		return err
	}
	if c.NotifyBatchSize <= 0 {
		return fmt.Errorf("%w: NOTIFY_BATCH_SIZE must be positive", ErrMissingConfig)
	}
	switch c.EmailProvider {
	case "sendgrid", "ses":
	default:
		return fmt.Errorf("%w: unsupported EMAIL_PROVIDER %q", ErrMissingConfig, c.EmailProvider)
	}
	switch c.SMSProvider {
	case "twilio", "sns":
	default:
		return fmt.Errorf("%w: unsupported SMS_PROVIDER %q", ErrMissingConfig, c.SMSProvider)
	}
	return nil
}

// ValidateInvoicer checks startup requirements for the invoice worker.
func (c *Config) ValidateInvoicer() error {
	if err := c.ValidateDatastore(); err != nil {
		return err
	}
	if c.InvoiceBatchSize <= 0 {
		return fmt.Errorf("%w: INVOICE_BATCH_SIZE must be positive", ErrMissingConfig)
	}
	var missing []string
	switch c.StorageBackend {
	case "supabase":
		if c.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.SupabaseServiceKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	case "s3":
	default:
		return fmt.Errorf("%w: unsupported STORAGE_BACKEND %q", ErrMissingConfig, c.StorageBackend)
	}
	if c.StorageBucket == "" {
		missing = append(missing, "STORAGE_BUCKET")
	}
	switch c.RendererMode {
	case "local":
		if c.RendererBinary == "" {
			missing = append(missing, "RENDERER_BINARY")
		}
	case "docker":
		if c.RendererImage == "" {
			missing = append(missing, "RENDERER_IMAGE")
		}
	default:
		return fmt.Errorf("%w: unsupported RENDERER_MODE %q", ErrMissingConfig, c.RendererMode)
	}
	return missingErr(missing)
}

// ValidateGateway checks startup requirements for the functions gateway.
func (c *Config) ValidateGateway() error {
	if err := c.ValidateDatastore(); err != nil {
		return err
	}
	if c.SupabaseJWTSecret == "" {
		return missingErr([]string{"SUPABASE_JWT_SECRET"})
	}
	return nil
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// secondsEnv reads a whole number of seconds.
func secondsEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}
