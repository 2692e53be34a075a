package models

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusProcessed  OutboxStatus = "PROCESSED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxEvent is a change notification stored next to the payment box write
// and relayed to the broker afterwards.
type OutboxEvent struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func NewOutboxEvent(aggregateID, eventType string, payload []byte, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     payload,
		Status:      OutboxStatusPending,
		CreatedAt:   now.UTC(),
	}
}

// PaymentBoxEvent is the payload published for every successful payment box write.
type PaymentBoxEvent struct {
	EventType    string           `json:"event_type"`
	PaymentBoxID string           `json:"payment_box_id"`
	ActorID      string           `json:"actor_id"`
	Action       string           `json:"action"`
	Status       PaymentBoxStatus `json:"status"`
	Phase        Phase            `json:"phase"`
	Version      int64            `json:"version"`
	SenderID     string           `json:"sender_id"`
	ReceiverID   string           `json:"receiver_id"`
	OccurredAt   string           `json:"occurred_at"`
}
