// Package memory keeps payment boxes, outbox events and settings in process memory.
// It is used with STORAGE_DRIVER=memory and in service tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/models"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
)

type Store struct {
	mu       sync.Mutex
	boxes    map[string]*models.PaymentBox
	outbox   []*models.OutboxEvent
	settings *models.PaymentBoxSettings
}

func NewStore() *Store {
	return &Store{boxes: make(map[string]*models.PaymentBox)}
}

func (s *Store) Create(ctx context.Context, box *models.PaymentBox, event *models.OutboxEvent) error {
	if box == nil {
		return pkgerrors.ErrNilPaymentBox
	}
	if !box.Status.Valid() {
		return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidState, box.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boxes[box.ID]; ok {
		return fmt.Errorf("payment box %s already exists", box.ID)
	}
	s.boxes[box.ID] = box.Clone()
	s.appendEvent(event)
	slog.Debug("payment box created", "method", "Create", "payment_box_id", box.ID)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.PaymentBox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, ok := s.boxes[id]
	if !ok {
		return nil, pkgerrors.ErrPaymentBoxNotFound
	}
	return box.Clone(), nil
}

func (s *Store) Update(ctx context.Context, box *models.PaymentBox, expectedStatus models.PaymentBoxStatus, expectedVersion int64, event *models.OutboxEvent) error {
	if box == nil {
		return pkgerrors.ErrNilPaymentBox
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.boxes[box.ID]
	if !ok {
		return pkgerrors.ErrPaymentBoxNotFound
	}
	if current.Status != expectedStatus || current.Version != expectedVersion {
		slog.Warn("payment box changed concurrently", "method", "Update", "payment_box_id", box.ID,
			"expected_status", expectedStatus, "status", current.Status,
			"expected_version", expectedVersion, "version", current.Version)
		return pkgerrors.ErrConflict
	}

	box.Version = expectedVersion + 1
	stored := box.Clone()
	// identity and creation data never change after insert
	stored.SenderID, stored.ReceiverID, stored.CreatedAt = current.SenderID, current.ReceiverID, current.CreatedAt
	s.boxes[box.ID] = stored
	s.appendEvent(event)
	return nil
}

func (s *Store) ListByParticipant(ctx context.Context, userID string) ([]models.PaymentBox, error) {
	return s.filter(func(b *models.PaymentBox) bool {
		return b.IsParticipant(userID)
	}), nil
}

func (s *Store) ListBetween(ctx context.Context, userA, userB string) ([]models.PaymentBox, error) {
	return s.filter(func(b *models.PaymentBox) bool {
		return (b.SenderID == userA && b.ReceiverID == userB) || (b.SenderID == userB && b.ReceiverID == userA)
	}), nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses []models.PaymentBoxStatus) ([]models.PaymentBox, error) {
	return s.filter(func(b *models.PaymentBox) bool {
		return len(statuses) == 0 || slices.Contains(statuses, b.Status)
	}), nil
}

// filter returns matching boxes newest first.
func (s *Store) filter(match func(*models.PaymentBox) bool) []models.PaymentBox {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PaymentBox, 0)
	for _, b := range s.boxes {
		if match(b) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Delete(ctx context.Context, id string, event *models.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boxes[id]; !ok {
		return pkgerrors.ErrPaymentBoxNotFound
	}
	delete(s.boxes, id)
	s.appendEvent(event)
	return nil
}

func (s *Store) appendEvent(event *models.OutboxEvent) {
	if event == nil {
		return
	}
	e := *event
	e.Payload = slices.Clone(event.Payload)
	s.outbox = append(s.outbox, &e)
}

func (s *Store) FetchPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*models.OutboxEvent
	for _, e := range s.outbox {
		if len(events) >= limit {
			break
		}
		if e.Status == models.OutboxStatusPending || e.Status == models.OutboxStatusFailed {
			e.Status = models.OutboxStatusProcessing
			c := *e
			events = append(events, &c)
		}
	}
	return events, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	return s.mark(id, models.OutboxStatusProcessed)
}

func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.mark(id, models.OutboxStatusFailed)
}

func (s *Store) mark(id string, status models.OutboxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.ID == id {
			e.Status = status
			if status == models.OutboxStatusProcessed {
				now := time.Now().UTC()
				e.ProcessedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}

// Events returns a copy of every stored outbox event in insertion order.
func (s *Store) Events() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		out[i] = *e
	}
	return out
}

func (s *Store) Get(ctx context.Context) (*models.PaymentBoxSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		return nil, pkgerrors.ErrSettingsNotFound
	}
	c := *s.settings
	return &c, nil
}

func (s *Store) Save(ctx context.Context, settings *models.PaymentBoxSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings", pkgerrors.ErrMissingField)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *settings
	s.settings = &c
	return nil
}
