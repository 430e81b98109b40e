package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
	"github.com/redgarden/venue-workers/internal/config"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/storage"
	"github.com/redgarden/venue-workers/internal/worker"
)

func baseConfig() *config.Config {
	return &config.Config{
		DatastoreDriver:    "sqlite",
		EmailProvider:      "sendgrid",
		SMSProvider:        "twilio",
		BreakerMaxFailures: 5,
		NotifyBatchSize:    50,
		InvoiceBatchSize:   10,
		StorageBackend:     storage.BackendSupabase,
		StorageBucket:      "invoices",
		SupabaseURL:        "https://project.supabase.co",
		SupabaseServiceKey: "service-key",
	}
}

func testAlert() *alert.Alert {
	return alert.Compose("new_enquiry", json.RawMessage(`{"name":"Asha"}`))
}

func TestBuildSenders_UnconfiguredChannels(t *testing.T) {
	senders, push, err := BuildSenders(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, push, "no VAPID keys means no push sender")

	err = senders.Send(context.Background(), alert.ChannelTelegram, testAlert())
	require.ErrorIs(t, err, worker.ErrChannelNotConfigured)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")

	err = senders.Send(context.Background(), alert.ChannelEmail, testAlert())
	require.ErrorIs(t, err, worker.ErrChannelNotConfigured)
	assert.Contains(t, err.Error(), "SENDGRID_API_KEY")
}

func TestBuildSenders_ConfiguredTelegram(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.TelegramBotToken = "123:abc"
	cfg.TelegramChatID = "42"
	cfg.TelegramBaseURL = srv.URL
	cfg.VAPIDPublicKey = "pub"
	cfg.VAPIDPrivateKey = "priv"

	senders, push, err := BuildSenders(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, push)

	require.NoError(t, senders.Send(context.Background(), alert.ChannelTelegram, testAlert()))
	assert.EqualValues(t, 1, hits.Load())
	assert.Len(t, senders.BreakerStats(), 1, "only configured channels get a breaker")
}

func TestBuildSenders_DryRun(t *testing.T) {
	cfg := baseConfig()
	cfg.NotifyDryRun = true

	senders, push, err := BuildSenders(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, push)
	assert.NoError(t, senders.Send(context.Background(), alert.ChannelSMS, testAlert()))
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "venue.db")

	store, closeFn, err := OpenStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	repo := db.NewRepository(store, zap.NewNop())
	n := &db.Notification{Type: "new_enquiry", Payload: db.JSONB(`{"name":"Asha"}`)}
	require.NoError(t, repo.CreateNotification(context.Background(), n))

	pending, err := repo.GetPendingNotifications(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, n.ID, pending[0].ID)
}

func TestNewWorkers(t *testing.T) {
	cfg := baseConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "venue.db")
	store, closeFn, err := OpenStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	d, err := NewDispatcher(context.Background(), cfg, store, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "dispatcher", d.Name())
	require.NoError(t, d.RunOnce(context.Background()))

	w, err := NewInvoiceWorker(context.Background(), cfg, store, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "invoicer", w.Name())
	require.NoError(t, w.RunOnce(context.Background()))
}

func TestWakeUps_NoQueue(t *testing.T) {
	ch, err := WakeUps(context.Background(), baseConfig(), "dispatcher", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, ch)
}
