package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/models"
	"github.com/honeynil/PaymentBoxService/internal/repository"
	"github.com/honeynil/PaymentBoxService/internal/repository/memory"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ repository.PaymentBoxRepository = (*memory.Store)(nil)
	_ repository.OutboxRepository     = (*memory.Store)(nil)
	_ repository.SettingsRepository   = (*memory.Store)(nil)
)

func seed(t *testing.T, s *memory.Store, id, sender, receiver string, createdAt time.Time) *models.PaymentBox {
	t.Helper()
	box := &models.PaymentBox{
		ID: id, SenderID: sender, ReceiverID: receiver,
		Status: models.StatusPending, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	require.NoError(t, s.Create(context.Background(), box, models.NewOutboxEvent(id, "payment_box.created", []byte(`{}`), createdAt)))
	return box
}

func TestStore_CreateAndGet(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	box := seed(t, s, "box-1", "seller", "buyer", time.Now())

	got, err := s.GetByID(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, box.SenderID, got.SenderID)

	got.Status = models.StatusCancelled
	again, err := s.GetByID(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, pkgerrors.ErrPaymentBoxNotFound)

	assert.Error(t, s.Create(ctx, box, nil))
	assert.ErrorIs(t, s.Create(ctx, nil, nil), pkgerrors.ErrNilPaymentBox)
}

func TestStore_UpdateCompareAndSet(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	seed(t, s, "box-1", "seller", "buyer", time.Now())

	box, err := s.GetByID(ctx, "box-1")
	require.NoError(t, err)
	box.Status = models.StatusBuyerPaid
	require.NoError(t, s.Update(ctx, box, models.StatusPending, 0, nil))
	assert.Equal(t, int64(1), box.Version)

	stale, err := s.GetByID(ctx, "box-1")
	require.NoError(t, err)
	stale.Status = models.StatusCancelled
	assert.ErrorIs(t, s.Update(ctx, stale, models.StatusPending, 0, nil), pkgerrors.ErrConflict)
	assert.ErrorIs(t, s.Update(ctx, stale, models.StatusBuyerPaid, 0, nil), pkgerrors.ErrConflict)

	stored, err := s.GetByID(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuyerPaid, stored.Status)

	stale.ID = "missing"
	assert.ErrorIs(t, s.Update(ctx, stale, models.StatusBuyerPaid, 1, nil), pkgerrors.ErrPaymentBoxNotFound)
}

func TestStore_ConcurrentUpdatesSingleWinner(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	seed(t, s, "box-1", "seller", "buyer", time.Now())

	const writers = 20
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			box, err := s.GetByID(ctx, "box-1")
			if err != nil {
				results <- err
				return
			}
			box.Status = models.StatusBuyerPaid
			results <- s.Update(ctx, box, models.StatusPending, 0, nil)
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, pkgerrors.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func TestStore_Lists(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, "a", "seller", "buyer", base)
	seed(t, s, "b", "buyer", "seller", base.Add(time.Hour))
	seed(t, s, "c", "seller", "other", base.Add(2*time.Hour))

	between, err := s.ListBetween(ctx, "seller", "buyer")
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, "b", between[0].ID)
	assert.Equal(t, "a", between[1].ID)

	mine, err := s.ListByParticipant(ctx, "seller")
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	none, err := s.ListBetween(ctx, "buyer", "other")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	box, err := s.GetByID(ctx, "c")
	require.NoError(t, err)
	box.Status = models.StatusCancelled
	require.NoError(t, s.Update(ctx, box, models.StatusPending, 0, nil))

	cancelled, err := s.ListByStatus(ctx, []models.PaymentBoxStatus{models.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "c", cancelled[0].ID)

	all, err := s.ListByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "c", nil))
	assert.ErrorIs(t, s.Delete(ctx, "c", nil), pkgerrors.ErrPaymentBoxNotFound)
}

func TestStore_Outbox(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	seed(t, s, "a", "seller", "buyer", time.Now())
	seed(t, s, "b", "seller", "buyer", time.Now())

	claimed, err := s.FetchPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "a", claimed[0].AggregateID)

	rest, err := s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].AggregateID)

	require.NoError(t, s.MarkProcessed(ctx, claimed[0].ID))
	require.NoError(t, s.MarkFailed(ctx, rest[0].ID))
	assert.Error(t, s.MarkProcessed(ctx, "unknown"))

	retry, err := s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, rest[0].ID, retry[0].ID)

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.OutboxStatusProcessed, events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)
}

func TestStore_Settings(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	_, err := s.Get(ctx)
	assert.ErrorIs(t, err, pkgerrors.ErrSettingsNotFound)

	content := "Transfer to 001"
	require.NoError(t, s.Save(ctx, &models.PaymentBoxSettings{ID: "default", Content: &content, HasFee: true}))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Transfer to 001", *got.Content)
	assert.True(t, got.HasFee)
	assert.ErrorIs(t, s.Save(ctx, nil), pkgerrors.ErrMissingField)
}
