package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/models"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresOutboxRepository struct {
	db *sql.DB
}

func NewPostgresOutboxRepository(db *sql.DB) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

// FetchPending claims up to limit unpublished events, oldest first, and moves them to PROCESSING.
// Rows locked by another relay are skipped, so several relays never publish the same event.
// Events that failed earlier are claimed again.
//
// TODO: reclaim rows left in PROCESSING when a relay dies between claim and publish.
func (r *PostgresOutboxRepository) FetchPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	var err error
	tracer := otel.Tracer("outbox-repository")
	ctx, span := tracer.Start(ctx, "FetchPendingOutboxEvents")
	span.SetAttributes(attribute.Int("limit", limit))
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "FetchPendingOutboxEvents", start, err) }()

	// RETURNING has no order of its own, the outer SELECT restores created_at order.
	query := `
		WITH claimed AS (
			UPDATE outbox_events SET status = 'PROCESSING'
			WHERE id IN (
				SELECT id FROM outbox_events
				WHERE status = ANY($1)
				ORDER BY created_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, aggregate_id, type, payload, status, created_at
		)
		SELECT id, aggregate_id, type, payload, status, created_at
		FROM claimed
		ORDER BY created_at ASC, id ASC
	`
	claimable := pq.Array([]string{string(models.OutboxStatusPending), string(models.OutboxStatusFailed)})
	rows, err := r.db.QueryContext(ctx, query, claimable, limit)
	if err != nil {
		slog.Error("failed to fetch pending outbox events", "method", "FetchPending", "error", err)
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		if err = rows.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

func (r *PostgresOutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	return r.mark(ctx, "MarkOutboxEventProcessed", id, models.OutboxStatusProcessed)
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, "MarkOutboxEventFailed", id, models.OutboxStatusFailed)
}

func (r *PostgresOutboxRepository) mark(ctx context.Context, method, id string, status models.OutboxStatus) error {
	var err error
	tracer := otel.Tracer("outbox-repository")
	ctx, span := tracer.Start(ctx, method)
	span.SetAttributes(attribute.String("event_id", id), attribute.String("status", string(status)))
	defer span.End()

	start := time.Now()
	defer func() { observe(span, method, start, err) }()

	var processedAt *time.Time
	if status == models.OutboxStatusProcessed {
		now := time.Now().UTC()
		processedAt = &now
	}

	query := `UPDATE outbox_events SET status = $1, processed_at = $2 WHERE id = $3`
	if _, err = r.db.ExecContext(ctx, query, status, processedAt, id); err != nil {
		slog.Error("failed to mark outbox event", "method", method, "event_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to mark outbox event: %w", err)
	}
	return nil
}
