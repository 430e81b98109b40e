package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository maps the outbox tables onto the generic Store.
type Repository struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRepository creates a repository over any Store implementation
func NewRepository(store Store, logger *zap.Logger) *Repository {
	return &Repository{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ---- notifications ----

// GetPendingNotifications returns the oldest pending notifications.
func (r *Repository) GetPendingNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	rows, err := r.store.Select(ctx, TableNotifications, Query{
		Filters: []Filter{Eq("status", StatusPending)},
		Order:   &Order{Column: "created_at"},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}

	notifications := make([]*Notification, 0, len(rows))
	for _, row := range rows {
		var n Notification
		if err := DecodeRow(row, &n); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	return notifications, nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	rows, err := r.store.Select(ctx, TableNotifications, Query{
		Filters: []Filter{Eq("id", id.String())},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	var n Notification
	if err := DecodeRow(rows[0], &n); err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}

// CreateNotification enqueues a pending notification. ID and CreatedAt are
// filled in when zero.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	n.Status = StatusPending
	n.Attempts = 0

	row := Row{
		"id":         n.ID.String(),
		"type":       n.Type,
		"payload":    nullableJSON(n.Payload.Raw()),
		"channel":    nullableString(n.Channel),
		"status":     n.Status,
		"attempts":   0,
		"created_at": n.CreatedAt,
	}
	if n.BookingID != nil {
		row["booking_id"] = n.BookingID.String()
	}
	if n.EnquiryID != nil {
		row["enquiry_id"] = n.EnquiryID.String()
	}

	if _, err := r.store.Insert(ctx, TableNotifications, row); err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("type", n.Type),
		zap.String("channel", n.ChannelList()),
	)
	return nil
}

// ClaimNotification moves an unclaimed pending row to processing. It reports
// false when another runner got there first.
func (r *Repository) ClaimNotification(ctx context.Context, id uuid.UUID, claimedBy string) (bool, error) {
	n, err := r.store.Update(ctx, TableNotifications,
		[]Filter{Eq("id", id.String()), Eq("status", StatusPending), IsNull("claimed_by")},
		Row{
			"status":     StatusProcessing,
			"claimed_by": claimedBy,
			"claimed_at": r.now(),
		},
	)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return n == 1, nil
}

// ReleaseStaleClaims returns processing rows claimed before cutoff to pending.
func (r *Repository) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.store.Update(ctx, TableNotifications,
		[]Filter{Eq("status", StatusProcessing), Lt("claimed_at", cutoff.UTC())},
		Row{
			"status":     StatusPending,
			"claimed_by": nil,
			"claimed_at": nil,
		},
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	if n > 0 {
		r.logger.Warn("released stale notification claims", zap.Int64("count", n))
	}
	return n, nil
}

// MarkNotificationSent records a successful delivery.
func (r *Repository) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	return r.updateNotification(ctx, id, Row{
		"status":     StatusSent,
		"sent_at":    r.now(),
		"claimed_by": nil,
		"claimed_at": nil,
	})
}

// RecordNotificationFailure stores a failed attempt. The row goes back to
// pending unless park is set, in which case it is marked failed.
func (r *Repository) RecordNotificationFailure(ctx context.Context, id uuid.UUID, attempts int, errMsg string, park bool) error {
	status := StatusPending
	if park {
		status = StatusFailed
	}
	return r.updateNotification(ctx, id, Row{
		"status":     status,
		"attempts":   attempts,
		"last_error": errMsg,
		"claimed_by": nil,
		"claimed_at": nil,
	})
}

// ResendNotification puts a notification back in the queue with a fresh attempt count.
func (r *Repository) ResendNotification(ctx context.Context, id uuid.UUID) error {
	return r.updateNotification(ctx, id, Row{
		"status":     StatusPending,
		"attempts":   0,
		"last_error": nil,
		"claimed_by": nil,
		"claimed_at": nil,
	})
}

// DeleteNotification removes a notification row.
func (r *Repository) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	n, err := r.store.Delete(ctx, TableNotifications, []Filter{Eq("id", id.String())})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Repository) updateNotification(ctx context.Context, id uuid.UUID, patch Row) error {
	n, err := r.store.Update(ctx, TableNotifications, []Filter{Eq("id", id.String())}, patch)
	if err != nil {
		r.logger.Error("failed to update notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return fmt.Errorf("update notification: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- push subscriptions ----

// ListPushSubscriptions returns every registered push endpoint.
func (r *Repository) ListPushSubscriptions(ctx context.Context) ([]*PushSubscription, error) {
	rows, err := r.store.Select(ctx, TablePushSubscriptions, Query{
		Order: &Order{Column: "created_at"},
	})
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	subs := make([]*PushSubscription, 0, len(rows))
	for _, row := range rows {
		var s PushSubscription
		if err := DecodeRow(row, &s); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, &s)
	}
	return subs, nil
}

// CreatePushSubscription registers a browser endpoint.
func (r *Repository) CreatePushSubscription(ctx context.Context, s *PushSubscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	row := Row{
		"id":           s.ID.String(),
		"label":        s.Label,
		"subscription": nullableJSON(s.Subscription.Raw()),
		"created_at":   s.CreatedAt,
	}
	if s.UserID != nil {
		row["user_id"] = *s.UserID
	}
	if _, err := r.store.Insert(ctx, TablePushSubscriptions, row); err != nil {
		return fmt.Errorf("insert push subscription: %w", err)
	}
	return nil
}

// DeletePushSubscription removes a dead endpoint.
func (r *Repository) DeletePushSubscription(ctx context.Context, id uuid.UUID) error {
	if _, err := r.store.Delete(ctx, TablePushSubscriptions, []Filter{Eq("id", id.String())}); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// ---- bookings / invoices ----

// GetPendingInvoiceBookings returns the oldest bookings awaiting an invoice.
func (r *Repository) GetPendingInvoiceBookings(ctx context.Context, limit int) ([]*Booking, error) {
	rows, err := r.store.Select(ctx, TableBookings, Query{
		Filters: []Filter{Eq("invoice_status", InvoicePending)},
		Order:   &Order{Column: "created_at"},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query pending invoices: %w", err)
	}
	bookings := make([]*Booking, 0, len(rows))
	for _, row := range rows {
		var b Booking
		if err := DecodeRow(row, &b); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, &b)
	}
	return bookings, nil
}

// GetInvoiceBooking loads a booking with its event and facility names.
func (r *Repository) GetInvoiceBooking(ctx context.Context, id uuid.UUID) (*InvoiceBooking, error) {
	rows, err := r.store.Select(ctx, TableBookings, Query{
		Filters: []Filter{Eq("id", id.String())},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}

	out := &InvoiceBooking{}
	if err := DecodeRow(rows[0], &out.Booking); err != nil {
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	if out.EventID != nil {
		if out.EventName, err = r.lookupName(ctx, TableEvents, *out.EventID); err != nil {
			return nil, err
		}
	}
	if out.FacilityID != nil {
		if out.FacilityName, err = r.lookupName(ctx, TableFacilities, *out.FacilityID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) lookupName(ctx context.Context, table string, id uuid.UUID) (string, error) {
	rows, err := r.store.Select(ctx, table, Query{
		Filters: []Filter{Eq("id", id.String())},
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("lookup %s name: %w", table, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	var named namedRow
	if err := DecodeRow(rows[0], &named); err != nil {
		return "", fmt.Errorf("scan %s: %w", table, err)
	}
	return named.Name, nil
}

// GetSiteSettings returns the singleton settings row, or zero settings when
// the table is empty.
func (r *Repository) GetSiteSettings(ctx context.Context) (*SiteSettings, error) {
	rows, err := r.store.Select(ctx, TableSiteSettings, Query{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("get site settings: %w", err)
	}
	settings := &SiteSettings{}
	if len(rows) == 0 {
		return settings, nil
	}
	if err := DecodeRow(rows[0], settings); err != nil {
		return nil, fmt.Errorf("scan site settings: %w", err)
	}
	return settings, nil
}

// FinalizeInvoice stores the uploaded document and marks the booking finalized.
func (r *Repository) FinalizeInvoice(ctx context.Context, id uuid.UUID, number, url string) error {
	return r.updateBooking(ctx, id, Row{
		"invoice_url":    url,
		"invoice_status": InvoiceFinalized,
		"invoice_number": number,
		"invoice_error":  nil,
		"updated_at":     r.now(),
	})
}

// RecordInvoiceFailure stores a failed generation attempt. Only used when
// invoice retries are capped; park marks the booking failed.
func (r *Repository) RecordInvoiceFailure(ctx context.Context, id uuid.UUID, attempts int, errMsg string, park bool) error {
	patch := Row{
		"invoice_attempts": attempts,
		"invoice_error":    errMsg,
	}
	if park {
		patch["invoice_status"] = InvoiceFailed
	}
	return r.updateBooking(ctx, id, patch)
}

// RequestInvoice flags a booking for the invoice worker.
func (r *Repository) RequestInvoice(ctx context.Context, id uuid.UUID) error {
	return r.updateBooking(ctx, id, Row{
		"invoice_status":   InvoicePending,
		"invoice_attempts": 0,
		"invoice_error":    nil,
	})
}

func (r *Repository) updateBooking(ctx context.Context, id uuid.UUID, patch Row) error {
	n, err := r.store.Update(ctx, TableBookings, []Filter{Eq("id", id.String())}, patch)
	if err != nil {
		r.logger.Error("failed to update booking",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return fmt.Errorf("update booking: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
