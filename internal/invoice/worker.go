// Package invoice turns bookings flagged for invoicing into rendered,
// uploaded PDF quotations.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/metrics"
)

type Repository interface {
	GetPendingInvoiceBookings(ctx context.Context, limit int) ([]*db.Booking, error)
	GetInvoiceBooking(ctx context.Context, id uuid.UUID) (*db.InvoiceBooking, error)
	GetSiteSettings(ctx context.Context) (*db.SiteSettings, error)
	FinalizeInvoice(ctx context.Context, id uuid.UUID, number, url string) error
	RecordInvoiceFailure(ctx context.Context, id uuid.UUID, attempts int, errMsg string, park bool) error
}

// ObjectStore is where rendered invoices are uploaded.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte, upsert bool) error
	PublicURL(key string) string
}

type Config struct {
	BatchSize int
	// MaxAttempts parks a booking as failed once reached. Zero leaves failed
	// bookings pending without touching the row.
	MaxAttempts int
	// LegacyNotes builds ledger rows from free-text notes when a booking has no line_items.
	LegacyNotes bool
}

type BatchResult struct {
	Selected  int
	Finalized int
	Failed    int
	Parked    int
}

// Worker finalizes pending invoices one booking at a time.
type Worker struct {
	repo     Repository
	template *Template
	renderer Renderer
	store    ObjectStore
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewWorker(repo Repository, tmpl *Template, renderer Renderer, store ObjectStore, cfg Config, logger *zap.Logger) *Worker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	return &Worker{
		repo:     repo,
		template: tmpl,
		renderer: renderer,
		store:    store,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (w *Worker) Name() string { return "invoicer" }

func (w *Worker) RunOnce(ctx context.Context) error {
	_, err := w.Run(ctx)
	return err
}

// Run processes one batch. A booking that fails is logged and left for the
// next run; only a failure to read the batch is returned.
func (w *Worker) Run(ctx context.Context) (BatchResult, error) {
	start := w.now()
	var result BatchResult

	bookings, err := w.repo.GetPendingInvoiceBookings(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to get pending invoice bookings", zap.Error(err))
		return result, fmt.Errorf("fetch pending bookings: %w", err)
	}
	result.Selected = len(bookings)

	for _, b := range bookings {
		if ctx.Err() != nil {
			w.logger.Warn("run cancelled, leaving remaining bookings pending")
			break
		}

		log := w.logger.With(zap.String("booking_id", b.ID.String()))
		err := w.processBooking(ctx, b.ID)
		if err == nil {
			result.Finalized++
			metrics.RecordInvoiceProcessed(db.InvoiceFinalized)
			continue
		}

		log.Error("failed to generate invoice", zap.Error(err), zap.Int("attempt", b.InvoiceAttempts+1))
		if w.recordFailure(ctx, b, err, log) {
			result.Parked++
			metrics.RecordInvoiceProcessed(db.InvoiceFailed)
		} else {
			result.Failed++
			metrics.RecordInvoiceProcessed(db.InvoicePending)
		}
	}

	metrics.RecordRun(w.Name(), result.Selected, w.now().Sub(start))
	w.logger.Info("invoice run complete",
		zap.Int("selected", result.Selected),
		zap.Int("finalized", result.Finalized),
		zap.Int("failed", result.Failed),
		zap.Int("parked", result.Parked),
	)
	return result, nil
}

func (w *Worker) processBooking(ctx context.Context, id uuid.UUID) error {
	booking, err := w.repo.GetInvoiceBooking(ctx, id)
	if err != nil {
		return err
	}
	settings, err := w.repo.GetSiteSettings(ctx)
	if err != nil {
		return err
	}

	rows, err := ServiceRows(&booking.Booking, w.config.LegacyNotes)
	if err != nil {
		return err
	}
	number := Number(&booking.Booking)

	source, err := w.template.Render(Fields(booking, settings, rows, number, w.now()))
	if err != nil {
		return err
	}

	file, err := w.renderer.Render(ctx, Document{
		BookingID: id.String(),
		Source:    source,
		Assets:    map[string]string{LogoFilename(settings): LogoPath(settings)},
	})
	if err != nil {
		return err
	}

	key := ObjectKey(&booking.Booking)
	if err := w.store.Upload(ctx, key, file.ContentType, file.Data, true); err != nil {
		return fmt.Errorf("upload invoice: %w", err)
	}
	url := w.store.PublicURL(key)

	if err := w.repo.FinalizeInvoice(context.WithoutCancel(ctx), id, number, url); err != nil {
		return err
	}

	w.logger.Info("invoice generated and uploaded",
		zap.String("booking_id", id.String()),
		zap.String("invoice_number", number),
		zap.String("url", url),
	)
	return nil
}

// recordFailure applies the park policy and reports whether the booking was parked.
func (w *Worker) recordFailure(ctx context.Context, b *db.Booking, cause error, log *zap.Logger) bool {
	if w.config.MaxAttempts <= 0 {
		return false
	}
	attempts := b.InvoiceAttempts + 1
	park := attempts >= w.config.MaxAttempts
	if err := w.repo.RecordInvoiceFailure(context.WithoutCancel(ctx), b.ID, attempts, cause.Error(), park); err != nil {
		log.Error("failed to record invoice failure", zap.Error(err))
		return false
	}
	if park {
		log.Warn("invoice parked after max attempts", zap.Int("attempts", attempts))
	}
	return park
}
