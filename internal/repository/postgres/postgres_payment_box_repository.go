package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/infrastructure/observability"
	"github.com/honeynil/PaymentBoxService/internal/models"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const paymentBoxColumns = `id, sender_id, receiver_id, status, version, created_at, updated_at,
	confirmed_at, payment_duration, payment_duration_days,
	admin_confirmed_at, transaction_start_at, seller_completed_at, buyer_confirmed_at, seller_confirmed_at, seller_cancelled_at,
	refund_requested_at, refund_approved_at, refund_reason, buyer_bank_account, buyer_bank_name,
	seller_bank_account, seller_bank_name, seller_rejection_reason, bill_image_url,
	admin_message, admin_message_at, admin_seller_message, admin_seller_message_at, buyer_reply, buyer_reply_at,
	content, image_url, transaction_fee, has_fee`

type PostgresPaymentBoxRepository struct {
	db *sql.DB
}

func NewPostgresPaymentBoxRepository(db *sql.DB) *PostgresPaymentBoxRepository {
	return &PostgresPaymentBoxRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentBox(row rowScanner) (*models.PaymentBox, error) {
	var b models.PaymentBox
	err := row.Scan(
		&b.ID, &b.SenderID, &b.ReceiverID, &b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt,
		&b.ConfirmedAt, &b.PaymentDuration, &b.PaymentDurationDays,
		&b.AdminConfirmedAt, &b.TransactionStartAt, &b.SellerCompletedAt, &b.BuyerConfirmedAt, &b.SellerConfirmedAt, &b.SellerCancelledAt,
		&b.RefundRequestedAt, &b.RefundApprovedAt, &b.RefundReason, &b.BuyerBankAccount, &b.BuyerBankName,
		&b.SellerBankAccount, &b.SellerBankName, &b.SellerRejectionReason, &b.BillImageURL,
		&b.AdminMessage, &b.AdminMessageAt, &b.AdminSellerMessage, &b.AdminSellerMessageAt, &b.BuyerReply, &b.BuyerReplyAt,
		&b.Content, &b.ImageURL, &b.TransactionFee, &b.HasFee,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// mutableValues lists every column an action may change, in the order used by Update.
func mutableValues(b *models.PaymentBox) []any {
	return []any{
		b.Status, b.UpdatedAt,
		b.ConfirmedAt, b.PaymentDuration, b.PaymentDurationDays,
		b.AdminConfirmedAt, b.TransactionStartAt, b.SellerCompletedAt, b.BuyerConfirmedAt, b.SellerConfirmedAt, b.SellerCancelledAt,
		b.RefundRequestedAt, b.RefundApprovedAt, b.RefundReason, b.BuyerBankAccount, b.BuyerBankName,
		b.SellerBankAccount, b.SellerBankName, b.SellerRejectionReason, b.BillImageURL,
		b.AdminMessage, b.AdminMessageAt, b.AdminSellerMessage, b.AdminSellerMessageAt, b.BuyerReply, b.BuyerReplyAt,
	}
}

func observe(span trace.Span, method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RepositoryCalls.WithLabelValues(method, status).Inc()
	observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func rollback(tx *sql.Tx, method string, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		slog.Error("rollback failed", "method", method, "error", rbErr)
		return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
	}
	return err
}

func insertOutbox(ctx context.Context, tx *sql.Tx, event *models.OutboxEvent) error {
	if event == nil {
		return nil
	}
	query := `INSERT INTO outbox_events (id, aggregate_id, type, payload, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, query, event.ID, event.AggregateID, event.Type, event.Payload, event.Status, event.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *PostgresPaymentBoxRepository) Create(ctx context.Context, box *models.PaymentBox, event *models.OutboxEvent) error {
	var err error
	tracer := otel.Tracer("payment-box-repository")
	ctx, span := tracer.Start(ctx, "CreatePaymentBox")
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "CreatePaymentBox", start, err) }()

	if box == nil {
		err = pkgerrors.ErrNilPaymentBox
		slog.Error("failed to create payment box", "method", "Create", "error", err)
		return err
	}
	if !box.Status.Valid() {
		err = fmt.Errorf("%w: %q", pkgerrors.ErrInvalidState, box.Status)
		slog.Error("invalid payment box status", "method", "Create", "status", box.Status, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("payment_box_id", box.ID),
		attribute.String("sender_id", box.SenderID),
		attribute.String("receiver_id", box.ReceiverID),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO payment_boxes (id, sender_id, receiver_id, status, version, created_at, updated_at,
		content, image_url, transaction_fee, has_fee) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = dbTx.ExecContext(ctx, query, box.ID, box.SenderID, box.ReceiverID, box.Status, box.Version,
		box.CreatedAt, box.UpdatedAt, box.Content, box.ImageURL, box.TransactionFee, box.HasFee)
	if err == nil {
		err = insertOutbox(ctx, dbTx, event)
	}
	if err != nil {
		err = rollback(dbTx, "Create", err)
		slog.Error("failed to create payment box", "method", "Create", "payment_box_id", box.ID, "error", err)
		return fmt.Errorf("failed to create payment box: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("payment box created", "method", "Create", "payment_box_id", box.ID, "sender_id", box.SenderID, "receiver_id", box.ReceiverID)
	return nil
}

func (r *PostgresPaymentBoxRepository) GetByID(ctx context.Context, id string) (*models.PaymentBox, error) {
	var err error
	tracer := otel.Tracer("payment-box-repository")
	ctx, span := tracer.Start(ctx, "GetPaymentBoxByID")
	span.SetAttributes(attribute.String("payment_box_id", id))
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "GetPaymentBoxByID", start, err) }()

	query := `SELECT ` + paymentBoxColumns + ` FROM payment_boxes WHERE id = $1`
	box, err := scanPaymentBox(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("payment box not found", "method", "GetByID", "payment_box_id", id)
		err = pkgerrors.ErrPaymentBoxNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment box by id", "method", "GetByID", "payment_box_id", id, "error", err)
		return nil, fmt.Errorf("failed to get payment box by id: %w", err)
	}
	return box, nil
}

func (r *PostgresPaymentBoxRepository) Update(ctx context.Context, box *models.PaymentBox, expectedStatus models.PaymentBoxStatus, expectedVersion int64, event *models.OutboxEvent) error {
	var err error
	tracer := otel.Tracer("payment-box-repository")
	ctx, span := tracer.Start(ctx, "UpdatePaymentBox")
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "UpdatePaymentBox", start, err) }()

	if box == nil {
		err = pkgerrors.ErrNilPaymentBox
		return err
	}

	span.SetAttributes(
		attribute.String("payment_box_id", box.ID),
		attribute.String("expected_status", string(expectedStatus)),
		attribute.String("status", string(box.Status)),
		attribute.Int64("expected_version", expectedVersion),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Update", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `UPDATE payment_boxes SET
		status = $1, updated_at = $2,
		confirmed_at = $3, payment_duration = $4, payment_duration_days = $5,
		admin_confirmed_at = $6, transaction_start_at = $7, seller_completed_at = $8, buyer_confirmed_at = $9, seller_confirmed_at = $10, seller_cancelled_at = $11,
		refund_requested_at = $12, refund_approved_at = $13, refund_reason = $14, buyer_bank_account = $15, buyer_bank_name = $16,
		seller_bank_account = $17, seller_bank_name = $18, seller_rejection_reason = $19, bill_image_url = $20,
		admin_message = $21, admin_message_at = $22, admin_seller_message = $23, admin_seller_message_at = $24, buyer_reply = $25, buyer_reply_at = $26,
		version = version + 1
		WHERE id = $27 AND status = $28 AND version = $29`
	args := append(mutableValues(box), box.ID, expectedStatus, expectedVersion)
	res, err := dbTx.ExecContext(ctx, query, args...)
	if err != nil {
		err = rollback(dbTx, "Update", err)
		slog.Error("failed to update payment box", "method", "Update", "payment_box_id", box.ID, "error", err)
		return fmt.Errorf("failed to update payment box: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		err = rollback(dbTx, "Update", err)
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err = dbTx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payment_boxes WHERE id = $1)`, box.ID).Scan(&exists); err != nil {
			err = rollback(dbTx, "Update", err)
			return fmt.Errorf("failed to check payment box: %w", err)
		}
		err = pkgerrors.ErrConflict
		if !exists {
			err = pkgerrors.ErrPaymentBoxNotFound
		}
		err = rollback(dbTx, "Update", err)
		slog.Warn("payment box changed concurrently", "method", "Update", "payment_box_id", box.ID,
			"expected_status", expectedStatus, "expected_version", expectedVersion, "error", err)
		return err
	}

	if err = insertOutbox(ctx, dbTx, event); err != nil {
		err = rollback(dbTx, "Update", err)
		slog.Error("failed to update payment box", "method", "Update", "payment_box_id", box.ID, "error", err)
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Update", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	box.Version = expectedVersion + 1
	slog.Info("payment box updated", "method", "Update", "payment_box_id", box.ID, "status", box.Status, "version", box.Version)
	return nil
}

func (r *PostgresPaymentBoxRepository) ListByParticipant(ctx context.Context, userID string) ([]models.PaymentBox, error) {
	query := `SELECT ` + paymentBoxColumns + ` FROM payment_boxes WHERE sender_id = $1 OR receiver_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, "ListPaymentBoxesByParticipant", []attribute.KeyValue{attribute.String("user_id", userID)}, query, userID)
}

func (r *PostgresPaymentBoxRepository) ListBetween(ctx context.Context, userA, userB string) ([]models.PaymentBox, error) {
	query := `SELECT ` + paymentBoxColumns + ` FROM payment_boxes
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC`
	attrs := []attribute.KeyValue{attribute.String("user_a", userA), attribute.String("user_b", userB)}
	return r.list(ctx, "ListPaymentBoxesBetween", attrs, query, userA, userB)
}

// ListByStatus returns every box when statuses is empty.
func (r *PostgresPaymentBoxRepository) ListByStatus(ctx context.Context, statuses []models.PaymentBoxStatus) ([]models.PaymentBox, error) {
	if len(statuses) == 0 {
		query := `SELECT ` + paymentBoxColumns + ` FROM payment_boxes ORDER BY created_at DESC`
		return r.list(ctx, "ListPaymentBoxesByStatus", nil, query)
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + paymentBoxColumns + ` FROM payment_boxes WHERE status = ANY($1) ORDER BY created_at DESC`
	attrs := []attribute.KeyValue{attribute.String("statuses", strings.Join(names, ","))}
	return r.list(ctx, "ListPaymentBoxesByStatus", attrs, query, pq.Array(names))
}

func (r *PostgresPaymentBoxRepository) list(ctx context.Context, method string, attrs []attribute.KeyValue, query string, args ...any) ([]models.PaymentBox, error) {
	var err error
	tracer := otel.Tracer("payment-box-repository")
	ctx, span := tracer.Start(ctx, method)
	span.SetAttributes(attrs...)
	defer span.End()

	start := time.Now()
	defer func() { observe(span, method, start, err) }()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list payment boxes", "method", method, "error", err)
		return nil, fmt.Errorf("failed to list payment boxes: %w", err)
	}
	defer rows.Close()

	boxes := make([]models.PaymentBox, 0)
	for rows.Next() {
		var box *models.PaymentBox
		box, err = scanPaymentBox(rows)
		if err != nil {
			slog.Error("failed to scan payment box", "method", method, "error", err)
			return nil, fmt.Errorf("failed to scan payment box: %w", err)
		}
		boxes = append(boxes, *box)
	}
	if err = rows.Err(); err != nil {
		slog.Error("failed to iterate payment boxes", "method", method, "error", err)
		return nil, fmt.Errorf("failed to iterate payment boxes: %w", err)
	}
	return boxes, nil
}

func (r *PostgresPaymentBoxRepository) Delete(ctx context.Context, id string, event *models.OutboxEvent) error {
	var err error
	tracer := otel.Tracer("payment-box-repository")
	ctx, span := tracer.Start(ctx, "DeletePaymentBox")
	span.SetAttributes(attribute.String("payment_box_id", id))
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "DeletePaymentBox", start, err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Delete", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx, `DELETE FROM payment_boxes WHERE id = $1`, id)
	if err != nil {
		err = rollback(dbTx, "Delete", err)
		slog.Error("failed to delete payment box", "method", "Delete", "payment_box_id", id, "error", err)
		return fmt.Errorf("failed to delete payment box: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		err = pkgerrors.ErrPaymentBoxNotFound
	}
	if err == nil {
		err = insertOutbox(ctx, dbTx, event)
	}
	if err != nil {
		err = rollback(dbTx, "Delete", err)
		slog.Warn("payment box not deleted", "method", "Delete", "payment_box_id", id, "error", err)
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Delete", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("payment box deleted", "method", "Delete", "payment_box_id", id)
	return nil
}
