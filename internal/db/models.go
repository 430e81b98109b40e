package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names
const (
	TableNotifications     = "notifications"
	TablePushSubscriptions = "push_subscriptions"
	TableBookings          = "bookings"
	TableEvents            = "events"
	TableFacilities        = "facilities"
	TableSiteSettings      = "site_settings"
)

// Notification is one row of the notifications outbox.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	Type      string     `json:"type"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	EnquiryID *uuid.UUID `json:"enquiry_id,omitempty"`
	Payload   JSONB      `json:"payload"`
	Channel   *string    `json:"channel,omitempty"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"last_error,omitempty"`
	ClaimedBy *string    `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// ChannelList returns the raw channel column, empty when NULL.
func (n *Notification) ChannelList() string {
	if n.Channel == nil {
		return ""
	}
	return *n.Channel
}

// Notification status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Invoice status constants. A NULL invoice_status means no invoice requested.
const (
	InvoicePending   = "pending"
	InvoiceFinalized = "finalized"
	InvoiceFailed    = "failed"
)

// PushSubscription is a browser endpoint registered from the admin panel.
type PushSubscription struct {
	ID           uuid.UUID `json:"id"`
	UserID       *string   `json:"user_id,omitempty"`
	Label        string    `json:"label"`
	Subscription JSONB     `json:"subscription"`
	CreatedAt    time.Time `json:"created_at"`
}

// PushEndpoint is the browser PushSubscription JSON.
type PushEndpoint struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Endpoint parses the stored subscription blob.
func (p *PushSubscription) Endpoint() (*PushEndpoint, error) {
	var ep PushEndpoint
	if err := json.Unmarshal(p.Subscription.Raw(), &ep); err != nil {
		return nil, fmt.Errorf("invalid push subscription %s: %w", p.ID, err)
	}
	if ep.Endpoint == "" {
		return nil, fmt.Errorf("push subscription %s has no endpoint", p.ID)
	}
	return &ep, nil
}

// Booking holds the columns the invoice worker reads and writes.
type Booking struct {
	ID              uuid.UUID  `json:"id"`
	EventID         *uuid.UUID `json:"event_id,omitempty"`
	FacilityID      *uuid.UUID `json:"facility_id,omitempty"`
	UserName        string     `json:"user_name"`
	UserEmail       string     `json:"user_email"`
	UserMobile      string     `json:"user_mobile"`
	EventDate       string     `json:"event_date"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	GuestCount      *int       `json:"guest_count,omitempty"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes"`
	LineItems       JSONB      `json:"line_items"`
	InvoiceStatus   *string    `json:"invoice_status,omitempty"`
	InvoiceNumber   *string    `json:"invoice_number,omitempty"`
	InvoiceURL      *string    `json:"invoice_url,omitempty"`
	InvoiceAttempts int        `json:"invoice_attempts"`
	InvoiceError    *string    `json:"invoice_error,omitempty"`
	TotalAmount     *float64   `json:"total_amount,omitempty"`
	GST             *float64   `json:"gst,omitempty"`
	AmountPaid      *float64   `json:"amount_paid,omitempty"`
	PaymentStatus   string     `json:"payment_status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// LineItem is one structured invoice row.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
}

// ParsedLineItems decodes the line_items column; nil when absent.
func (b *Booking) ParsedLineItems() ([]LineItem, error) {
	raw := b.LineItems.Raw()
	if raw == nil {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("invalid line_items on booking %s: %w", b.ID, err)
	}
	return items, nil
}

// InvoiceBooking is a booking joined with its display names.
type InvoiceBooking struct {
	Booking
	EventName    string
	FacilityName string
}

// SiteSettings is the singleton row of business details.
type SiteSettings struct {
	HeroTitle    string `json:"hero_title"`
	Address      string `json:"address"`
	PhoneNumber  string `json:"phone_number"`
	ContactEmail string `json:"contact_email"`
	BankName     string `json:"bank_name"`
	BankAccount  string `json:"bank_account"`
	IFSC         string `json:"ifsc"`
	Branch       string `json:"branch"`
	LogoPath     string `json:"logo_path"`
}

type namedRow struct {
	Name string `json:"name"`
}
