package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/db/dbtest"
)

type fakeRenderer struct {
	docs []Document
	fail map[string]bool
}

func (f *fakeRenderer) Render(ctx context.Context, doc Document) (*RenderedFile, error) {
	f.docs = append(f.docs, doc)
	if f.fail[doc.BookingID] {
		return nil, fmt.Errorf("%w: exit status 1", ErrRenderFailed)
	}
	return &RenderedFile{Name: "invoice-" + doc.BookingID + ".pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}, nil
}

type fakeObjectStore struct {
	objects   map[string][]byte
	uploadErr error
}

func (f *fakeObjectStore) Upload(ctx context.Context, key, contentType string, body []byte, upsert bool) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = body
	return nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	return "https://cdn.example.com/invoices/" + key
}

type invoiceEnv struct {
	store    *dbtest.MemStore
	repo     *db.Repository
	renderer *fakeRenderer
	objects  *fakeObjectStore
}

func newInvoiceEnv(t *testing.T) *invoiceEnv {
	t.Helper()
	store := dbtest.NewMemStore()
	store.Seed(db.TableSiteSettings, db.Row{
		"id":           1,
		"hero_title":   "The Red Garden",
		"bank_name":    "State Bank",
		"bank_account": "0011223344",
	})
	return &invoiceEnv{
		store:    store,
		repo:     db.NewRepository(store, zap.NewNop()),
		renderer: &fakeRenderer{fail: map[string]bool{}},
		objects:  &fakeObjectStore{},
	}
}

func (e *invoiceEnv) worker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	tmpl, err := LoadTemplate("")
	require.NoError(t, err)
	return NewWorker(e.repo, tmpl, e.renderer, e.objects, cfg, zap.NewNop())
}

var bookingClock = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

func (e *invoiceEnv) seedBooking(status, number any) uuid.UUID {
	id := uuid.New()
	bookingClock = bookingClock.Add(time.Minute)
	e.store.Seed(db.TableBookings, db.Row{
		"id":               id.String(),
		"user_name":        "Ravi Kumar",
		"user_email":       "ravi@example.com",
		"user_mobile":      "9800000000",
		"event_date":       "2025-05-10",
		"notes":            "Decoration\nCatering for 200",
		"invoice_status":   status,
		"invoice_number":   number,
		"invoice_attempts": 0,
		"total_amount":     50000.0,
		"gst":              9000.0,
		"created_at":       bookingClock,
	})
	return id
}

func (e *invoiceEnv) booking(t *testing.T, id uuid.UUID) *db.InvoiceBooking {
	t.Helper()
	b, err := e.repo.GetInvoiceBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestWorker_FinalizesPendingBooking(t *testing.T) {
	env := newInvoiceEnv(t)
	id := env.seedBooking(db.InvoicePending, nil)

	result, err := env.worker(t, Config{LegacyNotes: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finalized)

	b := env.booking(t, id)
	require.NotNil(t, b.InvoiceStatus)
	assert.Equal(t, db.InvoiceFinalized, *b.InvoiceStatus)
	require.NotNil(t, b.InvoiceNumber)
	assert.Equal(t, "Q-"+id.String()[:8], *b.InvoiceNumber)
	require.NotNil(t, b.InvoiceURL)
	assert.Equal(t, "https://cdn.example.com/invoices/invoices/invoice-"+id.String()+".pdf", *b.InvoiceURL)

	key := "invoices/invoice-" + id.String() + ".pdf"
	assert.Equal(t, []byte("%PDF-1.4"), env.objects.objects[key])

	require.Len(t, env.renderer.docs, 1)
	source := string(env.renderer.docs[0].Source)
	assert.Contains(t, source, "Ravi Kumar")
	assert.Contains(t, source, "1 & Decoration & - & -")
	assert.Contains(t, source, "2 & Catering for 200 & - & -")
	assert.Contains(t, source, "59000.00")
	assert.Equal(t, map[string]string{"logo.png": "public/logo.png"}, env.renderer.docs[0].Assets)
}

func TestWorker_SkipsFinalizedBookings(t *testing.T) {
	env := newInvoiceEnv(t)
	id := env.seedBooking(db.InvoiceFinalized, "INV-0007")
	env.seedBooking(nil, nil)

	result, err := env.worker(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Selected)
	assert.Empty(t, env.renderer.docs)
	assert.Equal(t, "INV-0007", *env.booking(t, id).InvoiceNumber)
	assert.Equal(t, 0, env.store.Calls["update:"+db.TableBookings])
}

func TestWorker_InvoiceNumberIsStable(t *testing.T) {
	env := newInvoiceEnv(t)
	assigned := env.seedBooking(db.InvoicePending, "Q-ORIGINAL")
	fresh := env.seedBooking(db.InvoicePending, nil)

	w := env.worker(t, Config{})
	_, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Q-ORIGINAL", *env.booking(t, assigned).InvoiceNumber)
	first := *env.booking(t, fresh).InvoiceNumber

	// forced re-generation
	require.NoError(t, env.repo.RequestInvoice(context.Background(), assigned))
	require.NoError(t, env.repo.RequestInvoice(context.Background(), fresh))
	result, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Finalized)

	assert.Equal(t, "Q-ORIGINAL", *env.booking(t, assigned).InvoiceNumber)
	assert.Equal(t, first, *env.booking(t, fresh).InvoiceNumber)
}

func TestWorker_BatchBoundary(t *testing.T) {
	env := newInvoiceEnv(t)
	for i := 0; i < 15; i++ {
		env.seedBooking(db.InvoicePending, nil)
	}

	result, err := env.worker(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, result.Selected)
	assert.Equal(t, 10, result.Finalized)

	pending, err := env.repo.GetPendingInvoiceBookings(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

func TestWorker_RenderFailureLeavesBookingUntouched(t *testing.T) {
	env := newInvoiceEnv(t)
	broken := env.seedBooking(db.InvoicePending, nil)
	healthy := env.seedBooking(db.InvoicePending, nil)
	env.renderer.fail[broken.String()] = true

	result, err := env.worker(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Finalized)

	b := env.booking(t, broken)
	assert.Equal(t, db.InvoicePending, *b.InvoiceStatus)
	assert.Nil(t, b.InvoiceNumber)
	assert.Nil(t, b.InvoiceError)
	assert.Equal(t, db.InvoiceFinalized, *env.booking(t, healthy).InvoiceStatus)
	// only the healthy booking was written
	assert.Equal(t, 1, env.store.Calls["update:"+db.TableBookings])
}

func TestWorker_UploadFailureLeavesBookingPending(t *testing.T) {
	env := newInvoiceEnv(t)
	id := env.seedBooking(db.InvoicePending, nil)
	env.objects.uploadErr = errors.New("storage returned 503")

	result, err := env.worker(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, db.InvoicePending, *env.booking(t, id).InvoiceStatus)
}

func TestWorker_ParksAfterMaxAttempts(t *testing.T) {
	env := newInvoiceEnv(t)
	id := env.seedBooking(db.InvoicePending, nil)
	env.renderer.fail[id.String()] = true

	w := env.worker(t, Config{MaxAttempts: 2})

	result, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	b := env.booking(t, id)
	assert.Equal(t, db.InvoicePending, *b.InvoiceStatus)
	assert.Equal(t, 1, b.InvoiceAttempts)
	require.NotNil(t, b.InvoiceError)
	assert.True(t, strings.Contains(*b.InvoiceError, "render failed"))

	result, err = w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Parked)
	assert.Equal(t, db.InvoiceFailed, *env.booking(t, id).InvoiceStatus)

	result, err = w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)
}

func TestWorker_FetchErrorIsFatal(t *testing.T) {
	env := newInvoiceEnv(t)
	env.store.SelectErr[db.TableBookings] = errors.New("connection reset")

	err := env.worker(t, Config{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
