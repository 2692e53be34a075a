package repository

import (
	"context"

	"github.com/honeynil/PaymentBoxService/internal/models"
)

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}
