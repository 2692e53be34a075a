package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_boxes (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	status TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ,
	payment_duration TEXT,
	payment_duration_days INTEGER,
	admin_confirmed_at TIMESTAMPTZ,
	transaction_start_at TIMESTAMPTZ,
	seller_completed_at TIMESTAMPTZ,
	buyer_confirmed_at TIMESTAMPTZ,
	seller_confirmed_at TIMESTAMPTZ,
	seller_cancelled_at TIMESTAMPTZ,
	refund_requested_at TIMESTAMPTZ,
	refund_approved_at TIMESTAMPTZ,
	refund_reason TEXT,
	buyer_bank_account TEXT,
	buyer_bank_name TEXT,
	seller_bank_account TEXT,
	seller_bank_name TEXT,
	seller_rejection_reason TEXT,
	bill_image_url TEXT,
	admin_message TEXT,
	admin_message_at TIMESTAMPTZ,
	admin_seller_message TEXT,
	admin_seller_message_at TIMESTAMPTZ,
	buyer_reply TEXT,
	buyer_reply_at TIMESTAMPTZ,
	content TEXT,
	image_url TEXT,
	transaction_fee TEXT,
	has_fee BOOLEAN NOT NULL DEFAULT FALSE,
	CHECK (sender_id <> receiver_id)
);
CREATE INDEX IF NOT EXISTS payment_boxes_sender_idx ON payment_boxes (sender_id);
CREATE INDEX IF NOT EXISTS payment_boxes_receiver_idx ON payment_boxes (receiver_id);
CREATE INDEX IF NOT EXISTS payment_boxes_status_idx ON payment_boxes (status);

CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_events_status_idx ON outbox_events (status, created_at);

CREATE TABLE IF NOT EXISTS payment_box_settings (
	id TEXT PRIMARY KEY,
	content TEXT,
	image_url TEXT,
	transaction_fee TEXT,
	has_fee BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		slog.Error("failed to apply schema", "error", err)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("schema applied")
	return nil
}
