package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ENV", "")
	t.Setenv("NOTIFY_BATCH_SIZE", "")
	t.Setenv("INVOICE_BATCH_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.NotifyBatchSize != 50 {
		t.Errorf("expected notify batch size 50, got %d", cfg.NotifyBatchSize)
	}
	if cfg.InvoiceBatchSize != 10 {
		t.Errorf("expected invoice batch size 10, got %d", cfg.InvoiceBatchSize)
	}
	if cfg.StorageBucket != "invoices" {
		t.Errorf("expected bucket 'invoices', got %s", cfg.StorageBucket)
	}
	if !cfg.InvoiceLegacyNotes {
		t.Error("legacy notes parsing should default to on")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("CLAIM_ENABLED", "true")
	t.Setenv("CLAIM_TIMEOUT", "60")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if !cfg.ClaimEnabled || cfg.ClaimTimeout != time.Minute {
		t.Errorf("claim settings not applied: %v %v", cfg.ClaimEnabled, cfg.ClaimTimeout)
	}
	if cfg.SupabaseURL != "https://abc.supabase.co" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.SupabaseURL)
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("NOTIFY_BATCH_SIZE", "fifty")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid NOTIFY_BATCH_SIZE")
	}
}

func TestValidateDispatcher_MissingDatastore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	err = cfg.ValidateDispatcher()
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should name DATABASE_URL: %v", err)
	}
}

func TestValidateDispatcher_ChannelCredentialsOptional(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://svc@db.example.com/postgres")
	t.Setenv("SENDGRID_API_KEY", "")
	t.Setenv("TWILIO_ACCOUNT_SID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ValidateDispatcher(); err != nil {
		t.Fatalf("channel credentials must not be required at startup: %v", err)
	}
}

func TestValidateInvoicer_SupabaseStorage(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://svc@db.example.com/postgres")
	t.Setenv("STORAGE_BACKEND", "supabase")
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	err = cfg.ValidateInvoicer()
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "SUPABASE_SERVICE_KEY") {
		t.Errorf("error should name SUPABASE_SERVICE_KEY: %v", err)
	}
}

func TestValidateInvoicer_UnknownRenderer(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://svc@db.example.com/postgres")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("RENDERER_MODE", "wasm")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ValidateInvoicer(); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TELEGRAM_CHAT_ID=12345\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("TELEGRAM_CHAT_ID", "")
	os.Unsetenv("TELEGRAM_CHAT_ID")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("TELEGRAM_CHAT_ID"); got != "12345" {
		t.Errorf("expected TELEGRAM_CHAT_ID from file, got %q", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}
