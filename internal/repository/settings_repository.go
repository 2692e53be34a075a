package repository

import (
	"context"

	"github.com/honeynil/PaymentBoxService/internal/models"
)

type SettingsRepository interface {
	Get(ctx context.Context) (*models.PaymentBoxSettings, error)
	Save(ctx context.Context, settings *models.PaymentBoxSettings) error
}
