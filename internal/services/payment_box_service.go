package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/PaymentBoxService/internal/escrow"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/observability"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/redis"
	"github.com/honeynil/PaymentBoxService/internal/models"
	"github.com/honeynil/PaymentBoxService/internal/repository"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestKeyTTL    = 24 * time.Hour
	settingsID       = "default"
	eventTypeCreated = "payment_box.created"
	eventTypeDeleted = "payment_box.deleted"
	actionNameCreate = "create"
	actionNameDelete = "delete"
	resultOK         = "ok"
	resultError      = "error"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// PaymentBoxView is a payment box as seen by one actor at one instant.
type PaymentBoxView struct {
	PaymentBox       *models.PaymentBox `json:"payment_box"`
	Phase            models.Phase       `json:"phase"`
	RemainingDays    *int32             `json:"remaining_days"`
	Expired          bool               `json:"expired"`
	Deadline         *time.Time         `json:"deadline,omitempty"`
	AvailableActions []escrow.Action    `json:"available_actions"`
}

type CreateRequest struct {
	ReceiverID string
	RequestID  string
}

// ActionRequest is the raw input of a transition. Inputs are validated only after the
// actor and state guards pass.
type ActionRequest struct {
	Action       string
	Duration     string
	CustomDays   int32
	BillImageURL string
	Reason       string
	BankAccount  string
	BankName     string
	Message      string
}

type SettingsRequest struct {
	Content        *string
	ImageURL       *string
	TransactionFee *string
	HasFee         bool
}

type PaymentBoxService interface {
	Create(ctx context.Context, actor models.Actor, req CreateRequest) (*PaymentBoxView, error)
	Get(ctx context.Context, actor models.Actor, id string) (*PaymentBoxView, error)
	ListMine(ctx context.Context, actor models.Actor) ([]PaymentBoxView, error)
	ListConversation(ctx context.Context, actor models.Actor, partnerID string) ([]PaymentBoxView, error)
	ListForAdmin(ctx context.Context, actor models.Actor, statuses []string) ([]PaymentBoxView, error)
	Apply(ctx context.Context, actor models.Actor, id string, req ActionRequest) (*PaymentBoxView, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	GetSettings(ctx context.Context, actor models.Actor) (*models.PaymentBoxSettings, error)
	SaveSettings(ctx context.Context, actor models.Actor, req SettingsRequest) (*models.PaymentBoxSettings, error)
}

type paymentBoxService struct {
	boxRepo      repository.PaymentBoxRepository
	settingsRepo repository.SettingsRepository
	cache        redis.RedisClient
	machine      *escrow.Machine
	clock        Clock
	cacheTTL     time.Duration
}

// NewPaymentBoxService wires the service. cache may be nil, which disables read caching
// and create idempotency.
func NewPaymentBoxService(
	boxRepo repository.PaymentBoxRepository,
	settingsRepo repository.SettingsRepository,
	cache redis.RedisClient,
	machine *escrow.Machine,
	clock Clock,
	cacheTTL time.Duration,
) PaymentBoxService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &paymentBoxService{
		boxRepo:      boxRepo,
		settingsRepo: settingsRepo,
		cache:        cache,
		machine:      machine,
		clock:        clock,
		cacheTTL:     cacheTTL,
	}
}

func (s *paymentBoxService) tracer() trace.Tracer {
	return otel.Tracer("payment-box-service")
}

func recordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *paymentBoxService) Create(ctx context.Context, actor models.Actor, req CreateRequest) (view *PaymentBoxView, err error) {
	ctx, span := s.tracer().Start(ctx, "CreatePaymentBox")
	defer span.End()
	defer func() {
		recordSpanError(span, err)
		observability.Transitions.WithLabelValues(actionNameCreate, resultLabel(err)).Inc()
	}()

	receiverID := strings.TrimSpace(req.ReceiverID)
	span.SetAttributes(attribute.String("sender_id", actor.ID), attribute.String("receiver_id", receiverID))

	if actor.ID == "" {
		return nil, pkgerrors.ErrUnauthorized
	}
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver_id", pkgerrors.ErrMissingField)
	}
	if receiverID == actor.ID {
		return nil, pkgerrors.ErrSameParticipant
	}

	if req.RequestID != "" && s.cache != nil {
		requestKey := fmt.Sprintf("request:%s", req.RequestID)
		fresh, cacheErr := s.cache.SetNX(ctx, requestKey, "processing", requestKeyTTL)
		if cacheErr != nil {
			slog.Warn("failed to check request idempotency", "method", "Create", "request_id", req.RequestID, "error", cacheErr)
		} else if !fresh {
			slog.Warn("duplicate create request", "method", "Create", "request_id", req.RequestID)
			return nil, pkgerrors.ErrRequestAlreadyProcessed
		} else {
			defer func() {
				if err != nil {
					_ = s.cache.Del(ctx, requestKey)
				}
			}()
		}
	}

	now := s.clock.Now().UTC()
	box := &models.PaymentBox{
		ID:         uuid.NewString(),
		SenderID:   actor.ID,
		ReceiverID: receiverID,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	settings, err := s.settingsRepo.Get(ctx)
	switch {
	case err == nil:
		box.Content, box.ImageURL, box.TransactionFee, box.HasFee = settings.Content, settings.ImageURL, settings.TransactionFee, settings.HasFee
	case stderrors.Is(err, pkgerrors.ErrSettingsNotFound):
		err = nil
	default:
		slog.Error("failed to load payment box settings", "method", "Create", "error", err)
		return nil, fmt.Errorf("failed to load payment box settings: %w", err)
	}

	event, err := newEvent(box, eventTypeCreated, actionNameCreate, actor, now)
	if err != nil {
		return nil, err
	}
	if err = s.boxRepo.Create(ctx, box, event); err != nil {
		slog.Error("failed to create payment box", "method", "Create", "sender_id", actor.ID, "receiver_id", receiverID, "error", err)
		return nil, err
	}

	slog.Info("payment box created", "method", "Create", "payment_box_id", box.ID, "sender_id", box.SenderID, "receiver_id", box.ReceiverID)
	return s.view(box, actor, now), nil
}

func (s *paymentBoxService) Get(ctx context.Context, actor models.Actor, id string) (view *PaymentBoxView, err error) {
	ctx, span := s.tracer().Start(ctx, "GetPaymentBox")
	span.SetAttributes(attribute.String("payment_box_id", id))
	defer span.End()
	defer func() { recordSpanError(span, err) }()

	box, err := s.cachedBox(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !box.IsParticipant(actor.ID) {
		slog.Warn("payment box hidden from non-participant", "method", "Get", "payment_box_id", id, "user_id", actor.ID)
		return nil, pkgerrors.ErrPaymentBoxNotFound
	}
	return s.view(box, actor, s.clock.Now()), nil
}

// cachedBox reads through the cache. Cache failures fall back to the repository.
// A miss is filled with SetNX so a slow reader never overwrites the newer record that
// Apply wrote through meanwhile.
func (s *paymentBoxService) cachedBox(ctx context.Context, id string) (*models.PaymentBox, error) {
	key := redis.PaymentBoxKey(id)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err == nil {
			var box models.PaymentBox
			if err := json.Unmarshal([]byte(cached), &box); err == nil {
				return &box, nil
			}
			slog.Warn("dropping unreadable cache entry", "method", "Get", "payment_box_id", id)
		} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("failed to read cache", "method", "Get", "payment_box_id", id, "error", err)
		}
	}

	box, err := s.boxRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(box); err == nil {
			if _, err := s.cache.SetNX(ctx, key, string(data), s.cacheTTL); err != nil {
				slog.Warn("failed to cache payment box", "method", "Get", "payment_box_id", id, "error", err)
			}
		}
	}
	return box, nil
}

// store writes a freshly committed record through to the cache.
func (s *paymentBoxService) store(ctx context.Context, box *models.PaymentBox) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(box)
	if err == nil {
		err = s.cache.Set(ctx, redis.PaymentBoxKey(box.ID), string(data), s.cacheTTL)
	}
	if err != nil {
		slog.Warn("failed to cache payment box, evicting", "payment_box_id", box.ID, "error", err)
		s.evict(ctx, box.ID)
	}
}

func (s *paymentBoxService) evict(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, redis.PaymentBoxKey(id)); err != nil {
		slog.Warn("failed to evict payment box from cache", "payment_box_id", id, "error", err)
	}
}

func (s *paymentBoxService) ListMine(ctx context.Context, actor models.Actor) ([]PaymentBoxView, error) {
	ctx, span := s.tracer().Start(ctx, "ListMyPaymentBoxes")
	defer span.End()

	boxes, err := s.boxRepo.ListByParticipant(ctx, actor.ID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return s.views(boxes, actor), nil
}

func (s *paymentBoxService) ListConversation(ctx context.Context, actor models.Actor, partnerID string) ([]PaymentBoxView, error) {
	ctx, span := s.tracer().Start(ctx, "ListConversationPaymentBoxes")
	span.SetAttributes(attribute.String("partner_id", partnerID))
	defer span.End()

	boxes, err := s.boxRepo.ListBetween(ctx, actor.ID, partnerID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return s.views(boxes, actor), nil
}

func (s *paymentBoxService) ListForAdmin(ctx context.Context, actor models.Actor, statuses []string) ([]PaymentBoxView, error) {
	ctx, span := s.tracer().Start(ctx, "ListPaymentBoxesForAdmin")
	span.SetAttributes(attribute.StringSlice("statuses", statuses))
	defer span.End()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", pkgerrors.ErrInvalidActor)
	}

	filter := make([]models.PaymentBoxStatus, 0, len(statuses))
	for _, raw := range statuses {
		status := models.PaymentBoxStatus(strings.TrimSpace(raw))
		if status == "" {
			continue
		}
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", pkgerrors.ErrInvalidInput, raw)
		}
		filter = append(filter, status)
	}

	boxes, err := s.boxRepo.ListByStatus(ctx, filter)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return s.views(boxes, actor), nil
}

func (s *paymentBoxService) Apply(ctx context.Context, actor models.Actor, id string, req ActionRequest) (view *PaymentBoxView, err error) {
	ctx, span := s.tracer().Start(ctx, "ApplyPaymentBoxAction")
	span.SetAttributes(
		attribute.String("payment_box_id", id),
		attribute.String("action", req.Action),
		attribute.String("actor_id", actor.ID),
	)
	defer span.End()
	actionLabel := "unknown"
	defer func() {
		recordSpanError(span, err)
		observability.Transitions.WithLabelValues(actionLabel, resultLabel(err)).Inc()
	}()

	action, err := escrow.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}
	actionLabel = string(action)

	// Guards run on an authoritative read, never on the cached copy.
	box, err := s.boxRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err = s.machine.Check(box, action, actor, now); err != nil {
		slog.Warn("payment box action rejected", "method", "Apply", "payment_box_id", id, "action", action, "actor_id", actor.ID, "error", err)
		return nil, err
	}

	cmd := escrow.Command{
		Action:       action,
		BillImageURL: req.BillImageURL,
		Reason:       req.Reason,
		BankAccount:  req.BankAccount,
		BankName:     req.BankName,
		Message:      req.Message,
	}
	if action == escrow.ActionSelectDuration && strings.TrimSpace(req.Duration) != "" {
		duration, err := models.NewPaymentDuration(models.DurationKind(strings.TrimSpace(req.Duration)), req.CustomDays)
		if err != nil {
			return nil, err
		}
		cmd.Duration = &duration
	}

	next, err := s.machine.Apply(box, cmd, actor, now)
	if err != nil {
		slog.Warn("payment box action rejected", "method", "Apply", "payment_box_id", id, "action", action, "actor_id", actor.ID, "error", err)
		return nil, err
	}

	next.Version = box.Version + 1
	event, err := newEvent(next, action.EventType(), string(action), actor, now)
	if err != nil {
		return nil, err
	}
	if err = s.boxRepo.Update(ctx, next, box.Status, box.Version, event); err != nil {
		if stderrors.Is(err, pkgerrors.ErrConflict) {
			slog.Warn("payment box action lost a concurrent update", "method", "Apply", "payment_box_id", id, "action", action)
		} else {
			slog.Error("failed to persist payment box action", "method", "Apply", "payment_box_id", id, "action", action, "error", err)
		}
		return nil, err
	}
	s.store(ctx, next)

	slog.Info("payment box action applied", "method", "Apply", "payment_box_id", id, "action", action,
		"actor_id", actor.ID, "status", next.Status, "phase", next.Phase(), "version", next.Version)
	return s.view(next, actor, now), nil
}

func (s *paymentBoxService) Delete(ctx context.Context, actor models.Actor, id string) (err error) {
	ctx, span := s.tracer().Start(ctx, "DeletePaymentBox")
	span.SetAttributes(attribute.String("payment_box_id", id))
	defer span.End()
	defer func() {
		recordSpanError(span, err)
		observability.Transitions.WithLabelValues(actionNameDelete, resultLabel(err)).Inc()
	}()

	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", pkgerrors.ErrInvalidActor)
	}

	box, err := s.boxRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	event, err := newEvent(box, eventTypeDeleted, actionNameDelete, actor, s.clock.Now())
	if err != nil {
		return err
	}
	if err = s.boxRepo.Delete(ctx, id, event); err != nil {
		return err
	}
	s.evict(ctx, id)

	slog.Info("payment box deleted", "method", "Delete", "payment_box_id", id, "admin_id", actor.ID)
	return nil
}

func (s *paymentBoxService) GetSettings(ctx context.Context, actor models.Actor) (*models.PaymentBoxSettings, error) {
	ctx, span := s.tracer().Start(ctx, "GetPaymentBoxSettings")
	defer span.End()

	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return settings, nil
}

func (s *paymentBoxService) SaveSettings(ctx context.Context, actor models.Actor, req SettingsRequest) (settings *models.PaymentBoxSettings, err error) {
	ctx, span := s.tracer().Start(ctx, "SavePaymentBoxSettings")
	defer span.End()
	defer func() { recordSpanError(span, err) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", pkgerrors.ErrInvalidActor)
	}

	now := s.clock.Now().UTC()
	createdAt := now
	existing, err := s.settingsRepo.Get(ctx)
	switch {
	case err == nil:
		createdAt = existing.CreatedAt
	case stderrors.Is(err, pkgerrors.ErrSettingsNotFound):
		err = nil
	default:
		return nil, err
	}

	settings = &models.PaymentBoxSettings{
		ID:             settingsID,
		Content:        normalize(req.Content),
		ImageURL:       normalize(req.ImageURL),
		TransactionFee: normalize(req.TransactionFee),
		HasFee:         req.HasFee,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}
	if err = s.settingsRepo.Save(ctx, settings); err != nil {
		return nil, err
	}

	slog.Info("payment box settings saved", "method", "SaveSettings", "admin_id", actor.ID)
	return settings, nil
}

func (s *paymentBoxService) view(box *models.PaymentBox, actor models.Actor, now time.Time) *PaymentBoxView {
	v := &PaymentBoxView{
		PaymentBox:       box,
		Phase:            box.Phase(),
		Expired:          escrow.Expired(box, now),
		AvailableActions: s.machine.Available(box, actor, now),
	}
	if remaining, ok := escrow.RemainingDays(box, now); ok {
		v.RemainingDays = &remaining
	}
	if deadline, ok := escrow.Deadline(box); ok {
		v.Deadline = &deadline
	}
	return v
}

func (s *paymentBoxService) views(boxes []models.PaymentBox, actor models.Actor) []PaymentBoxView {
	now := s.clock.Now()
	out := make([]PaymentBoxView, 0, len(boxes))
	for i := range boxes {
		out = append(out, *s.view(&boxes[i], actor, now))
	}
	return out
}

func newEvent(box *models.PaymentBox, eventType, action string, actor models.Actor, now time.Time) (*models.OutboxEvent, error) {
	payload, err := json.Marshal(models.PaymentBoxEvent{
		EventType:    eventType,
		PaymentBoxID: box.ID,
		ActorID:      actor.ID,
		Action:       action,
		Status:       box.Status,
		Phase:        box.Phase(),
		Version:      box.Version,
		SenderID:     box.SenderID,
		ReceiverID:   box.ReceiverID,
		OccurredAt:   now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment box event: %w", err)
	}
	return models.NewOutboxEvent(box.ID, eventType, payload, now), nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case stderrors.Is(err, pkgerrors.ErrInvalidActor):
		return "invalid_actor"
	case stderrors.Is(err, pkgerrors.ErrInvalidState):
		return "invalid_state"
	case stderrors.Is(err, pkgerrors.ErrMissingField):
		return "missing_field"
	case stderrors.Is(err, pkgerrors.ErrConflict):
		return "conflict"
	case stderrors.Is(err, pkgerrors.ErrPaymentBoxNotFound):
		return "not_found"
	}
	return resultError
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
