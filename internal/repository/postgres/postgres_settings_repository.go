package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/models"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
	"go.opentelemetry.io/otel"
)

type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

// Get returns the most recently updated settings row.
func (r *PostgresSettingsRepository) Get(ctx context.Context) (*models.PaymentBoxSettings, error) {
	var err error
	tracer := otel.Tracer("settings-repository")
	ctx, span := tracer.Start(ctx, "GetPaymentBoxSettings")
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "GetPaymentBoxSettings", start, err) }()

	var s models.PaymentBoxSettings
	query := `SELECT id, content, image_url, transaction_fee, has_fee, created_at, updated_at
		FROM payment_box_settings ORDER BY updated_at DESC LIMIT 1`
	err = r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.Content, &s.ImageURL, &s.TransactionFee, &s.HasFee, &s.CreatedAt, &s.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrSettingsNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment box settings", "method", "Get", "error", err)
		return nil, fmt.Errorf("failed to get payment box settings: %w", err)
	}
	return &s, nil
}

func (r *PostgresSettingsRepository) Save(ctx context.Context, settings *models.PaymentBoxSettings) error {
	var err error
	tracer := otel.Tracer("settings-repository")
	ctx, span := tracer.Start(ctx, "SavePaymentBoxSettings")
	defer span.End()

	start := time.Now()
	defer func() { observe(span, "SavePaymentBoxSettings", start, err) }()

	if settings == nil {
		err = fmt.Errorf("%w: settings", pkgerrors.ErrMissingField)
		return err
	}

	query := `INSERT INTO payment_box_settings (id, content, image_url, transaction_fee, has_fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, image_url = EXCLUDED.image_url,
			transaction_fee = EXCLUDED.transaction_fee, has_fee = EXCLUDED.has_fee, updated_at = EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, query, settings.ID, settings.Content, settings.ImageURL, settings.TransactionFee,
		settings.HasFee, settings.CreatedAt, settings.UpdatedAt)
	if err != nil {
		slog.Error("failed to save payment box settings", "method", "Save", "settings_id", settings.ID, "error", err)
		return fmt.Errorf("failed to save payment box settings: %w", err)
	}

	slog.Info("payment box settings saved", "method", "Save", "settings_id", settings.ID)
	return nil
}
