package repository_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/PaymentBoxService/internal/models"
	repository "github.com/honeynil/PaymentBoxService/internal/repository/postgres"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var boxColumns = []string{
	"id", "sender_id", "receiver_id", "status", "version", "created_at", "updated_at",
	"confirmed_at", "payment_duration", "payment_duration_days",
	"admin_confirmed_at", "transaction_start_at", "seller_completed_at", "buyer_confirmed_at", "seller_confirmed_at", "seller_cancelled_at",
	"refund_requested_at", "refund_approved_at", "refund_reason", "buyer_bank_account", "buyer_bank_name",
	"seller_bank_account", "seller_bank_name", "seller_rejection_reason", "bill_image_url",
	"admin_message", "admin_message_at", "admin_seller_message", "admin_seller_message_at", "buyer_reply", "buyer_reply_at",
	"content", "image_url", "transaction_fee", "has_fee",
}

// boxRow builds a row for a box in the admin-confirmed phase with a 7 day window.
func boxRow(id string, createdAt time.Time) []driver.Value {
	row := make([]driver.Value, len(boxColumns))
	row[0], row[1], row[2] = id, "seller", "buyer"
	row[3], row[4] = "admin_confirmed", int64(3)
	row[5], row[6] = createdAt, createdAt
	row[7], row[8], row[9] = createdAt, "7days", int64(7)
	row[10], row[11] = createdAt, createdAt
	row[24] = "https://img.example/bill.png"
	row[31] = "Pay to account 001"
	row[34] = true
	return row
}

func TestPostgresPaymentBoxRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPaymentBoxRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	newBox := func() *models.PaymentBox {
		return &models.PaymentBox{
			ID: "box-1", SenderID: "seller", ReceiverID: "buyer",
			Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
		}
	}

	t.Run("NilPaymentBox", func(t *testing.T) {
		err := repo.Create(ctx, nil, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilPaymentBox)
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		box := newBox()
		box.Status = "shipped"
		err := repo.Create(ctx, box, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("Success", func(t *testing.T) {
		box := newBox()
		event := models.NewOutboxEvent(box.ID, "payment_box.created", []byte(`{}`), now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO payment_boxes`).
			WithArgs("box-1", "seller", "buyer", "pending", int64(0), now, now, nil, nil, nil, false).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(event.ID, "box-1", "payment_box.created", []byte(`{}`), "PENDING", event.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Create(ctx, box, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OutboxFailureRollsBack", func(t *testing.T) {
		box := newBox()
		event := models.NewOutboxEvent(box.ID, "payment_box.created", []byte(`{}`), now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO payment_boxes`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnError(fmt.Errorf("db error"))
		mock.ExpectRollback()

		err := repo.Create(ctx, box, event)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create payment box")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackFailure", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO payment_boxes`).WillReturnError(fmt.Errorf("db error"))
		mock.ExpectRollback().WillReturnError(fmt.Errorf("rollback error"))

		err := repo.Create(ctx, newBox(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rollback failed: rollback error; original error: db error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPaymentBoxRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPaymentBoxRepository(db)
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM payment_boxes WHERE id = \$1`).
			WithArgs("box-1").
			WillReturnRows(sqlmock.NewRows(boxColumns).AddRow(boxRow("box-1", createdAt)...))

		box, err := repo.GetByID(ctx, "box-1")
		require.NoError(t, err)
		assert.Equal(t, "box-1", box.ID)
		assert.Equal(t, models.StatusAdminConfirmed, box.Status)
		assert.Equal(t, int64(3), box.Version)
		require.NotNil(t, box.PaymentDuration)
		assert.Equal(t, models.Duration7Days, *box.PaymentDuration)
		require.NotNil(t, box.PaymentDurationDays)
		assert.Equal(t, int32(7), *box.PaymentDurationDays)
		assert.Equal(t, createdAt, *box.TransactionStartAt)
		assert.Nil(t, box.SellerCompletedAt)
		assert.Nil(t, box.RefundReason)
		assert.Equal(t, "Pay to account 001", *box.Content)
		assert.True(t, box.HasFee)
		assert.Equal(t, models.PhaseAdminConfirmed, box.Phase())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM payment_boxes WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		box, err := repo.GetByID(ctx, "missing")
		assert.Nil(t, box)
		assert.ErrorIs(t, err, pkgerrors.ErrPaymentBoxNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM payment_boxes WHERE id = \$1`).
			WithArgs("box-1").
			WillReturnError(fmt.Errorf("db error"))

		box, err := repo.GetByID(ctx, "box-1")
		assert.Nil(t, box)
		assert.Contains(t, err.Error(), "failed to get payment box by id")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func updateArgs(id string, status models.PaymentBoxStatus, version int64) []driver.Value {
	args := make([]driver.Value, 0, 29)
	for i := 0; i < 26; i++ {
		args = append(args, sqlmock.AnyArg())
	}
	return append(args, id, string(status), version)
}

func TestPostgresPaymentBoxRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPaymentBoxRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	completed := func() *models.PaymentBox {
		return &models.PaymentBox{
			ID: "box-1", SenderID: "seller", ReceiverID: "buyer",
			Status: models.StatusAdminConfirmed, Version: 3, UpdatedAt: now, SellerCompletedAt: &now,
		}
	}

	t.Run("Success", func(t *testing.T) {
		box := completed()
		event := models.NewOutboxEvent(box.ID, "payment_box.seller_complete", []byte(`{}`), now)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payment_boxes SET`).
			WithArgs(updateArgs("box-1", models.StatusAdminConfirmed, 3)...).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Update(ctx, box, models.StatusAdminConfirmed, 3, event))
		assert.Equal(t, int64(4), box.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("StaleVersionIsConflict", func(t *testing.T) {
		box := completed()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payment_boxes SET`).
			WithArgs(updateArgs("box-1", models.StatusAdminConfirmed, 3)...).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("box-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := repo.Update(ctx, box, models.StatusAdminConfirmed, 3, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrConflict)
		assert.Equal(t, int64(3), box.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeletedIsNotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE payment_boxes SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("box-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := repo.Update(ctx, completed(), models.StatusAdminConfirmed, 3, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrPaymentBoxNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NilPaymentBox", func(t *testing.T) {
		err := repo.Update(ctx, nil, models.StatusPending, 0, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilPaymentBox)
	})
}

func TestPostgresPaymentBoxRepository_Lists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPaymentBoxRepository(db)
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("ListByParticipant", func(t *testing.T) {
		mock.ExpectQuery(`FROM payment_boxes WHERE sender_id = \$1 OR receiver_id = \$1`).
			WithArgs("buyer").
			WillReturnRows(sqlmock.NewRows(boxColumns).
				AddRow(boxRow("box-2", createdAt.Add(time.Hour))...).
				AddRow(boxRow("box-1", createdAt)...))

		boxes, err := repo.ListByParticipant(ctx, "buyer")
		require.NoError(t, err)
		require.Len(t, boxes, 2)
		assert.Equal(t, "box-2", boxes[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListBetweenEmpty", func(t *testing.T) {
		mock.ExpectQuery(`FROM payment_boxes\s+WHERE \(sender_id = \$1 AND receiver_id = \$2\)`).
			WithArgs("seller", "stranger").
			WillReturnRows(sqlmock.NewRows(boxColumns))

		boxes, err := repo.ListBetween(ctx, "seller", "stranger")
		require.NoError(t, err)
		assert.NotNil(t, boxes)
		assert.Empty(t, boxes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListByStatus", func(t *testing.T) {
		mock.ExpectQuery(`WHERE status = ANY\(\$1\)`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(boxColumns).AddRow(boxRow("box-1", createdAt)...))

		boxes, err := repo.ListByStatus(ctx, []models.PaymentBoxStatus{models.StatusAdminConfirmed, models.StatusBuyerPaid})
		require.NoError(t, err)
		assert.Len(t, boxes, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListByStatusAll", func(t *testing.T) {
		mock.ExpectQuery(`FROM payment_boxes ORDER BY created_at DESC`).
			WillReturnRows(sqlmock.NewRows(boxColumns))

		boxes, err := repo.ListByStatus(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, boxes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("QueryError", func(t *testing.T) {
		mock.ExpectQuery(`FROM payment_boxes WHERE sender_id`).
			WillReturnError(fmt.Errorf("db error"))

		boxes, err := repo.ListByParticipant(ctx, "buyer")
		assert.Nil(t, boxes)
		assert.Contains(t, err.Error(), "failed to list payment boxes")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPaymentBoxRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresPaymentBoxRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		event := models.NewOutboxEvent("box-1", "payment_box.deleted", []byte(`{}`), time.Now())

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM payment_boxes WHERE id = \$1`).WithArgs("box-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.Delete(ctx, "box-1", event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM payment_boxes WHERE id = \$1`).WithArgs("missing").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Delete(ctx, "missing", nil)
		assert.ErrorIs(t, err, pkgerrors.ErrPaymentBoxNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
