package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
	"github.com/redgarden/venue-workers/internal/circuitbreaker"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/db/dbtest"
)

// MockSender records every alert it is asked to deliver.
type MockSender struct {
	mu        sync.Mutex
	channel   string
	sendErr   error
	sendCalls []*alert.Alert
}

func (m *MockSender) Send(ctx context.Context, a *alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, a)
	return m.sendErr
}

func (m *MockSender) SupportsChannel(channel string) bool {
	return channel == m.channel
}

func (m *MockSender) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sendCalls)
}

// MockPushSender fails endpoints listed in errs.
type MockPushSender struct {
	errs  map[string]error
	calls []string
}

func (m *MockPushSender) Push(ctx context.Context, endpoint *db.PushEndpoint, payload []byte) error {
	m.calls = append(m.calls, endpoint.Endpoint)
	return m.errs[endpoint.Endpoint]
}

type testEnv struct {
	store    *dbtest.MemStore
	repo     *db.Repository
	email    *MockSender
	sms      *MockSender
	telegram *MockSender
	push     *MockPushSender
}

func newTestEnv() *testEnv {
	store := dbtest.NewMemStore()
	return &testEnv{
		store:    store,
		repo:     db.NewRepository(store, zap.NewNop()),
		email:    &MockSender{channel: alert.ChannelEmail},
		sms:      &MockSender{channel: alert.ChannelSMS},
		telegram: &MockSender{channel: alert.ChannelTelegram},
		push:     &MockPushSender{errs: map[string]error{}},
	}
}

func (e *testEnv) dispatcher(cfg Config) *Dispatcher {
	senders := NewMultiSender(zap.NewNop(), e.email, e.sms, e.telegram)
	return New(e.repo, senders, e.push, cfg, zap.NewNop())
}

var seedClock = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

func (e *testEnv) seedNotification(channel any, attempts int) uuid.UUID {
	id := uuid.New()
	seedClock = seedClock.Add(time.Second)
	e.store.Seed(db.TableNotifications, db.Row{
		"id":         id.String(),
		"type":       "new_enquiry",
		"payload":    json.RawMessage(`{"name":"Asha","guests":120}`),
		"channel":    channel,
		"status":     db.StatusPending,
		"attempts":   attempts,
		"created_at": seedClock,
	})
	return id
}

func (e *testEnv) seedSubscription(endpoint string) uuid.UUID {
	id := uuid.New()
	seedClock = seedClock.Add(time.Second)
	e.store.Seed(db.TablePushSubscriptions, db.Row{
		"id":           id.String(),
		"label":        "admin",
		"subscription": json.RawMessage(fmt.Sprintf(`{"endpoint":%q,"keys":{"p256dh":"key","auth":"auth"}}`, endpoint)),
		"created_at":   seedClock,
	})
	return id
}

func (e *testEnv) notification(t *testing.T, id uuid.UUID) *db.Notification {
	t.Helper()
	n, err := e.repo.GetNotification(context.Background(), id)
	if err != nil {
		t.Fatalf("get notification %s: %v", id, err)
	}
	return n
}

func (e *testEnv) run(t *testing.T, d *Dispatcher) BatchResult {
	t.Helper()
	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return result
}

func TestDispatcher_SendsAllChannels(t *testing.T) {
	env := newTestEnv()
	env.seedSubscription("https://push.example.com/a")
	id := env.seedNotification("all", 0)

	result := env.run(t, env.dispatcher(Config{}))

	if result.Sent != 1 {
		t.Errorf("sent = %d, want 1", result.Sent)
	}
	if env.email.calls() != 1 || env.sms.calls() != 1 || env.telegram.calls() != 1 {
		t.Errorf("calls email=%d sms=%d telegram=%d, want 1 each", env.email.calls(), env.sms.calls(), env.telegram.calls())
	}
	if len(env.push.calls) != 1 {
		t.Errorf("push calls = %v", env.push.calls)
	}

	n := env.notification(t, id)
	if n.Status != db.StatusSent {
		t.Errorf("status = %s, want sent", n.Status)
	}
	if n.SentAt == nil {
		t.Error("sent_at not set")
	}

	sent := env.email.sendCalls[0]
	if sent.Subject != "Alert: new_enquiry" {
		t.Errorf("subject = %q", sent.Subject)
	}
	if want := `[new_enquiry] {"name":"Asha","guests":120}`; sent.Text != want {
		t.Errorf("text = %q, want %q", sent.Text, want)
	}
}

func TestDispatcher_NullChannelMeansAll(t *testing.T) {
	env := newTestEnv()
	env.seedNotification(nil, 0)

	env.run(t, env.dispatcher(Config{}))

	if env.email.calls() != 1 || env.sms.calls() != 1 || env.telegram.calls() != 1 {
		t.Errorf("calls email=%d sms=%d telegram=%d, want 1 each", env.email.calls(), env.sms.calls(), env.telegram.calls())
	}
}

func TestDispatcher_OnlyRequestedChannels(t *testing.T) {
	env := newTestEnv()
	env.seedNotification("Telegram, fax", 0)

	env.run(t, env.dispatcher(Config{}))

	if env.email.calls() != 0 || env.sms.calls() != 0 {
		t.Errorf("unrequested channels used: email=%d sms=%d", env.email.calls(), env.sms.calls())
	}
	if env.telegram.calls() != 1 {
		t.Errorf("telegram calls = %d, want 1", env.telegram.calls())
	}
	if len(env.push.calls) != 0 {
		t.Errorf("push calls = %v", env.push.calls)
	}
}

func TestDispatcher_ChannelFailureKeepsRecordPending(t *testing.T) {
	env := newTestEnv()
	env.sms.sendErr = errors.New("twilio returned non-2xx status: 401")
	id := env.seedNotification("all", 0)

	d := env.dispatcher(Config{})
	if result := env.run(t, d); result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}

	n := env.notification(t, id)
	if n.Status != db.StatusPending || n.Attempts != 1 {
		t.Errorf("status=%s attempts=%d, want pending/1", n.Status, n.Attempts)
	}
	if n.LastError == nil || !strings.Contains(*n.LastError, "sms") {
		t.Errorf("last_error = %v", n.LastError)
	}
	if n.SentAt != nil {
		t.Error("sent_at set on a failed record")
	}

	// sms aborts the record before telegram
	if env.email.calls() != 1 || env.telegram.calls() != 0 {
		t.Errorf("email=%d telegram=%d, want 1/0", env.email.calls(), env.telegram.calls())
	}

	// a retry re-attempts every channel, including the one that succeeded
	env.sms.sendErr = nil
	env.run(t, d)

	if env.email.calls() != 2 || env.sms.calls() != 2 || env.telegram.calls() != 1 {
		t.Errorf("email=%d sms=%d telegram=%d, want 2/2/1", env.email.calls(), env.sms.calls(), env.telegram.calls())
	}
	if got := env.notification(t, id).Status; got != db.StatusSent {
		t.Errorf("status after retry = %s", got)
	}
}

func TestDispatcher_PrunesGoneSubscriptions(t *testing.T) {
	env := newTestEnv()
	gone := env.seedSubscription("https://push.example.com/gone")
	alive := env.seedSubscription("https://push.example.com/alive")
	flaky := env.seedSubscription("https://push.example.com/flaky")
	env.push.errs["https://push.example.com/gone"] = &PushError{StatusCode: 410}
	env.push.errs["https://push.example.com/flaky"] = &PushError{StatusCode: 500}
	id := env.seedNotification("all", 0)

	env.run(t, env.dispatcher(Config{}))

	if env.store.Find(db.TablePushSubscriptions, gone.String()) != nil {
		t.Error("410 subscription was not pruned")
	}
	if env.store.Find(db.TablePushSubscriptions, alive.String()) == nil {
		t.Error("working subscription was pruned")
	}
	if env.store.Find(db.TablePushSubscriptions, flaky.String()) == nil {
		t.Error("only 404/410 prune, 500 subscription was removed")
	}

	// push failures never fail the record
	if env.email.calls() != 1 {
		t.Errorf("email calls = %d", env.email.calls())
	}
	if got := env.notification(t, id).Status; got != db.StatusSent {
		t.Errorf("status = %s, want sent", got)
	}
}

func TestDispatcher_PushWithoutVAPIDIsSkipped(t *testing.T) {
	env := newTestEnv()
	env.seedSubscription("https://push.example.com/a")
	id := env.seedNotification("push", 0)

	senders := NewMultiSender(zap.NewNop(), env.email)
	env.run(t, New(env.repo, senders, nil, Config{}, zap.NewNop()))

	if got := env.notification(t, id).Status; got != db.StatusSent {
		t.Errorf("status = %s, want sent", got)
	}
}

func TestDispatcher_BatchBoundary(t *testing.T) {
	env := newTestEnv()
	for i := 0; i < 60; i++ {
		env.seedNotification("email", 0)
	}

	result := env.run(t, env.dispatcher(Config{}))

	if result.Selected != 50 || result.Sent != 50 {
		t.Errorf("selected=%d sent=%d, want 50/50", result.Selected, result.Sent)
	}
	if env.email.calls() != 50 {
		t.Errorf("email calls = %d, want 50", env.email.calls())
	}

	pending, err := env.repo.GetPendingNotifications(context.Background(), 100)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 10 {
		t.Errorf("pending = %d, want 10", len(pending))
	}
}

func TestDispatcher_MissingEmailConfigFailsOnlyEmailRecords(t *testing.T) {
	env := newTestEnv()
	unconfigured := NewUnconfiguredSender(alert.ChannelEmail, "SENDGRID_API_KEY", "ADMIN_EMAIL")
	senders := NewMultiSender(zap.NewNop(), unconfigured, env.sms, env.telegram)
	d := New(env.repo, senders, env.push, Config{}, zap.NewNop())

	emailID := env.seedNotification("email", 0)
	smsID := env.seedNotification("sms", 0)
	telegramID := env.seedNotification("telegram", 0)

	result := env.run(t, d)
	if result.Selected != 3 || result.Sent != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 3 selected, 2 sent, 1 failed", result)
	}

	n := env.notification(t, emailID)
	if n.Status != db.StatusPending {
		t.Errorf("email record status = %s", n.Status)
	}
	if n.LastError == nil || !strings.Contains(*n.LastError, "SENDGRID_API_KEY") || !strings.Contains(*n.LastError, "not configured") {
		t.Errorf("last_error = %v", n.LastError)
	}

	if got := env.notification(t, smsID).Status; got != db.StatusSent {
		t.Errorf("sms record status = %s", got)
	}
	if got := env.notification(t, telegramID).Status; got != db.StatusSent {
		t.Errorf("telegram record status = %s", got)
	}
}

func TestDispatcher_FetchErrorIsFatal(t *testing.T) {
	env := newTestEnv()
	env.store.SelectErr[db.TableNotifications] = errors.New("connection refused")

	_, err := env.dispatcher(Config{}).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestDispatcher_ParksAfterMaxAttempts(t *testing.T) {
	env := newTestEnv()
	env.email.sendErr = errors.New("sendgrid returned non-2xx status: 403")
	id := env.seedNotification("email", 2)

	if result := env.run(t, env.dispatcher(Config{MaxAttempts: 3})); result.Parked != 1 {
		t.Errorf("parked = %d, want 1", result.Parked)
	}

	n := env.notification(t, id)
	if n.Status != db.StatusFailed || n.Attempts != 3 {
		t.Errorf("status=%s attempts=%d, want failed/3", n.Status, n.Attempts)
	}
}

func TestDispatcher_OpenCircuitDoesNotCountTowardParking(t *testing.T) {
	env := newTestEnv()
	env.email.sendErr = errors.New("sendgrid returned non-2xx status: 503")
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "email", MaxFailures: 1, RecoveryTimeout: time.Hour}, zap.NewNop())
	senders := NewMultiSender(zap.NewNop(), circuitbreaker.NewProtectedSender(env.email, breaker, zap.NewNop()))
	d := New(env.repo, senders, env.push, Config{MaxAttempts: 3}, zap.NewNop())

	tripped := env.seedNotification("email", 2)
	rejected := env.seedNotification("email", 2)

	result := env.run(t, d)
	if result.Parked != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 parked, 1 failed", result)
	}
	if env.email.calls() != 1 {
		t.Errorf("provider calls = %d, want 1 before the circuit opened", env.email.calls())
	}

	if n := env.notification(t, tripped); n.Status != db.StatusFailed || n.Attempts != 3 {
		t.Errorf("provider failure: status=%s attempts=%d, want failed/3", n.Status, n.Attempts)
	}

	n := env.notification(t, rejected)
	if n.Status != db.StatusPending || n.Attempts != 2 {
		t.Errorf("fast-failed record: status=%s attempts=%d, want pending/2", n.Status, n.Attempts)
	}
	if n.LastError == nil || !strings.Contains(*n.LastError, "circuit breaker is open") {
		t.Errorf("last_error = %v", n.LastError)
	}
}

func TestDispatcher_UnboundedRetriesByDefault(t *testing.T) {
	env := newTestEnv()
	env.email.sendErr = errors.New("boom")
	id := env.seedNotification("email", 41)

	env.run(t, env.dispatcher(Config{}))

	n := env.notification(t, id)
	if n.Status != db.StatusPending || n.Attempts != 42 {
		t.Errorf("status=%s attempts=%d, want pending/42", n.Status, n.Attempts)
	}
}

func TestDispatcher_ClaimReleasesStaleAndClaimsRows(t *testing.T) {
	env := newTestEnv()
	staleID := uuid.New()
	env.store.Seed(db.TableNotifications, db.Row{
		"id":         staleID.String(),
		"type":       "stuck",
		"channel":    "email",
		"status":     db.StatusProcessing,
		"attempts":   0,
		"claimed_by": "dead-runner",
		"claimed_at": time.Now().UTC().Add(-time.Hour),
		"created_at": time.Now().UTC().Add(-2 * time.Hour),
	})

	d := env.dispatcher(Config{ClaimEnabled: true, ClaimTimeout: 10 * time.Minute, RunnerID: "runner-1"})
	if result := env.run(t, d); result.Sent != 1 {
		t.Errorf("sent = %d, want 1", result.Sent)
	}

	n := env.notification(t, staleID)
	if n.Status != db.StatusSent {
		t.Errorf("status = %s, want sent", n.Status)
	}
	if n.ClaimedBy != nil {
		t.Errorf("claimed_by = %q, want cleared", *n.ClaimedBy)
	}
	if got := env.store.Calls["update:"+db.TableNotifications]; got < 3 {
		t.Errorf("updates = %d, want release, claim and mark", got)
	}
}

// lostClaimRepo simulates another runner winning every claim.
type lostClaimRepo struct {
	*db.Repository
}

func (r lostClaimRepo) ClaimNotification(ctx context.Context, id uuid.UUID, claimedBy string) (bool, error) {
	return false, nil
}

func TestDispatcher_SkipsRowsClaimedElsewhere(t *testing.T) {
	env := newTestEnv()
	id := env.seedNotification("email", 0)

	senders := NewMultiSender(zap.NewNop(), env.email)
	d := New(lostClaimRepo{env.repo}, senders, env.push, Config{ClaimEnabled: true}, zap.NewNop())

	if result := env.run(t, d); result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
	if env.email.calls() != 0 {
		t.Errorf("email calls = %d, want 0", env.email.calls())
	}
	if got := env.notification(t, id).Status; got != db.StatusPending {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestDispatcher_CancelledRunLeavesRowsPending(t *testing.T) {
	env := newTestEnv()
	env.seedNotification("email", 0)
	env.seedNotification("email", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.dispatcher(Config{}).Run(ctx)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Selected != 2 || result.Sent != 0 {
		t.Errorf("result = %+v, want 2 selected, none sent", result)
	}
	if env.email.calls() != 0 {
		t.Errorf("email calls = %d, want 0", env.email.calls())
	}
}
