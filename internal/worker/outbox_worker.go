package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/infrastructure/observability"
	"github.com/honeynil/PaymentBoxService/internal/models"
	"github.com/honeynil/PaymentBoxService/internal/repository"
)

type EventPublisher interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// OutboxWorker relays committed payment box events to the broker.
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	publisher  EventPublisher
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	publisher EventPublisher,
	interval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "outbox worker started", slog.Duration("interval", w.interval), slog.Int("batch_size", w.batchSize))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "outbox worker stopped")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many were published.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) int {
	events, err := w.outboxRepo.FetchPending(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to fetch pending events", slog.String("error", err.Error()))
		return 0
	}

	if len(events) == 0 {
		return 0
	}

	w.logger.DebugContext(ctx, "processing outbox events", slog.Int("count", len(events)))

	published := 0
	for _, event := range events {
		if err := w.publisher.Publish(ctx, event); err != nil {
			observability.OutboxPublished.WithLabelValues("error").Inc()
			w.logger.ErrorContext(ctx, "failed to publish event",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type),
				slog.String("error", err.Error()),
			)
			if err := w.outboxRepo.MarkFailed(ctx, event.ID); err != nil {
				w.logger.ErrorContext(ctx, "failed to mark event as failed",
					slog.String("event_id", event.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		observability.OutboxPublished.WithLabelValues("success").Inc()
		published++
		if err := w.outboxRepo.MarkProcessed(ctx, event.ID); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark event as processed",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return published
}
