package db

import (
	"context"
	"fmt"
)

// sqliteSchema mirrors the Postgres tables in migrations/ for local runs.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		booking_id TEXT,
		enquiry_id TEXT,
		payload TEXT,
		channel TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		claimed_by TEXT,
		claimed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sent_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS push_subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		label TEXT,
		subscription TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS facilities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		event_id TEXT,
		facility_id TEXT,
		user_name TEXT,
		user_email TEXT,
		user_mobile TEXT,
		event_date TEXT,
		start_time TEXT,
		end_time TEXT,
		guest_count INTEGER,
		status TEXT,
		notes TEXT,
		line_items TEXT,
		created_by TEXT,
		invoice_number TEXT,
		invoice_url TEXT,
		invoice_status TEXT,
		invoice_attempts INTEGER NOT NULL DEFAULT 0,
		invoice_error TEXT,
		total_amount REAL,
		gst REAL,
		amount_paid REAL,
		payment_status TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_invoice_status ON bookings (invoice_status, created_at)`,
	`CREATE TABLE IF NOT EXISTS site_settings (
		id INTEGER PRIMARY KEY,
		hero_title TEXT,
		address TEXT,
		phone_number TEXT,
		contact_email TEXT,
		bank_name TEXT,
		bank_account TEXT,
		ifsc TEXT,
		branch TEXT,
		logo_path TEXT
	)`,
}

// EnsureSchema creates the worker tables when they are missing.
func (s *GormStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
