package repository

import (
	"context"

	"github.com/honeynil/PaymentBoxService/internal/models"
)

// PaymentBoxRepository persists payment boxes. Every write stores its change event
// atomically with the record.
type PaymentBoxRepository interface {
	Create(ctx context.Context, box *models.PaymentBox, event *models.OutboxEvent) error
	GetByID(ctx context.Context, id string) (*models.PaymentBox, error)
	// Update writes box only if the stored row still has expectedStatus and expectedVersion.
	// On success box.Version is advanced; a lost race returns ErrConflict.
	Update(ctx context.Context, box *models.PaymentBox, expectedStatus models.PaymentBoxStatus, expectedVersion int64, event *models.OutboxEvent) error
	ListByParticipant(ctx context.Context, userID string) ([]models.PaymentBox, error)
	ListBetween(ctx context.Context, userA, userB string) ([]models.PaymentBox, error)
	ListByStatus(ctx context.Context, statuses []models.PaymentBoxStatus) ([]models.PaymentBox, error)
	Delete(ctx context.Context, id string, event *models.OutboxEvent) error
}
