package models

import "time"

// PaymentBox is one escrowed transaction between a seller (sender) and a buyer (receiver).
type PaymentBox struct {
	ID         string           `json:"id"`
	SenderID   string           `json:"sender_id"`
	ReceiverID string           `json:"receiver_id"`
	Status     PaymentBoxStatus `json:"status"`
	Version    int64            `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	ConfirmedAt         *time.Time    `json:"confirmed_at,omitempty"`
	PaymentDuration     *DurationKind `json:"payment_duration,omitempty"`
	PaymentDurationDays *int32        `json:"payment_duration_days,omitempty"`

	AdminConfirmedAt   *time.Time `json:"admin_confirmed_at,omitempty"`
	TransactionStartAt *time.Time `json:"transaction_start_at,omitempty"`
	SellerCompletedAt  *time.Time `json:"seller_completed_at,omitempty"`
	BuyerConfirmedAt   *time.Time `json:"buyer_confirmed_at,omitempty"`
	SellerConfirmedAt  *time.Time `json:"seller_confirmed_at,omitempty"`
	SellerCancelledAt  *time.Time `json:"seller_cancelled_at,omitempty"`

	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`
	RefundApprovedAt  *time.Time `json:"refund_approved_at,omitempty"`
	RefundReason      *string    `json:"refund_reason,omitempty"`
	BuyerBankAccount  *string    `json:"buyer_bank_account,omitempty"`
	BuyerBankName     *string    `json:"buyer_bank_name,omitempty"`

	SellerBankAccount     *string `json:"seller_bank_account,omitempty"`
	SellerBankName        *string `json:"seller_bank_name,omitempty"`
	SellerRejectionReason *string `json:"seller_rejection_reason,omitempty"`
	BillImageURL          *string `json:"bill_image_url,omitempty"`

	AdminMessage         *string    `json:"admin_message,omitempty"`
	AdminMessageAt       *time.Time `json:"admin_message_at,omitempty"`
	AdminSellerMessage   *string    `json:"admin_seller_message,omitempty"`
	AdminSellerMessageAt *time.Time `json:"admin_seller_message_at,omitempty"`
	BuyerReply           *string    `json:"buyer_reply,omitempty"`
	BuyerReplyAt         *time.Time `json:"buyer_reply_at,omitempty"`

	// Payment instructions copied from PaymentBoxSettings when the box is created.
	Content        *string `json:"content,omitempty"`
	ImageURL       *string `json:"image_url,omitempty"`
	TransactionFee *string `json:"transaction_fee,omitempty"`
	HasFee         bool    `json:"has_fee"`
}

type PaymentBoxStatus string

const (
	StatusPending         PaymentBoxStatus = "pending"
	StatusBuyerPaid       PaymentBoxStatus = "buyer_paid"
	StatusAdminConfirmed  PaymentBoxStatus = "admin_confirmed"
	StatusRefundRequested PaymentBoxStatus = "refund_requested"
	StatusCompleted       PaymentBoxStatus = "completed"
	StatusCancelled       PaymentBoxStatus = "cancelled"
	StatusRejected        PaymentBoxStatus = "rejected"
	StatusRefunded        PaymentBoxStatus = "refunded"
)

func (s PaymentBoxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBuyerPaid, StatusAdminConfirmed, StatusRefundRequested,
		StatusCompleted, StatusCancelled, StatusRejected, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition may be applied.
func (s PaymentBoxStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusRefunded:
		return true
	}
	return false
}

// Phase is the explicit machine state. It refines the persisted status with the
// sub-phases of an admin-confirmed transaction.
type Phase string

const (
	PhasePending               Phase = "pending"
	PhaseBuyerPaid             Phase = "buyer_paid"
	PhaseAdminConfirmed        Phase = "admin_confirmed"
	PhaseSellerCompleted       Phase = "seller_completed"
	PhaseBuyerConfirmed        Phase = "buyer_confirmed"
	PhaseSellerRequestedPayout Phase = "seller_requested_payout"
	PhaseCompleted             Phase = "completed"
	PhaseRefundRequested       Phase = "refund_requested"
	PhaseCancelled             Phase = "cancelled"
	PhaseRejected              Phase = "rejected"
	PhaseRefunded              Phase = "refunded"
)

func (b *PaymentBox) Phase() Phase {
	switch b.Status {
	case StatusPending:
		return PhasePending
	case StatusBuyerPaid:
		return PhaseBuyerPaid
	case StatusAdminConfirmed:
		switch {
		case b.SellerConfirmedAt != nil:
			return PhaseSellerRequestedPayout
		case b.BuyerConfirmedAt != nil:
			return PhaseBuyerConfirmed
		case b.SellerCompletedAt != nil:
			return PhaseSellerCompleted
		default:
			return PhaseAdminConfirmed
		}
	case StatusRefundRequested:
		return PhaseRefundRequested
	case StatusCompleted:
		return PhaseCompleted
	case StatusCancelled:
		return PhaseCancelled
	case StatusRejected:
		return PhaseRejected
	case StatusRefunded:
		return PhaseRefunded
	}
	return Phase(b.Status)
}

// DurationSelected reports whether the buyer has already chosen a payment duration.
func (b *PaymentBox) DurationSelected() bool {
	return b.ConfirmedAt != nil && b.PaymentDuration != nil && b.PaymentDurationDays != nil
}

func (b *PaymentBox) IsParticipant(userID string) bool {
	return userID != "" && (b.SenderID == userID || b.ReceiverID == userID)
}

// Clone returns a deep copy so callers can derive a new record without touching the original.
func (b *PaymentBox) Clone() *PaymentBox {
	if b == nil {
		return nil
	}
	c := *b
	c.ConfirmedAt = cloneTime(b.ConfirmedAt)
	c.PaymentDuration = clonePtr(b.PaymentDuration)
	c.PaymentDurationDays = clonePtr(b.PaymentDurationDays)
	c.AdminConfirmedAt = cloneTime(b.AdminConfirmedAt)
	c.TransactionStartAt = cloneTime(b.TransactionStartAt)
	c.SellerCompletedAt = cloneTime(b.SellerCompletedAt)
	c.BuyerConfirmedAt = cloneTime(b.BuyerConfirmedAt)
	c.SellerConfirmedAt = cloneTime(b.SellerConfirmedAt)
	c.SellerCancelledAt = cloneTime(b.SellerCancelledAt)
	c.RefundRequestedAt = cloneTime(b.RefundRequestedAt)
	c.RefundApprovedAt = cloneTime(b.RefundApprovedAt)
	c.RefundReason = clonePtr(b.RefundReason)
	c.BuyerBankAccount = clonePtr(b.BuyerBankAccount)
	c.BuyerBankName = clonePtr(b.BuyerBankName)
	c.SellerBankAccount = clonePtr(b.SellerBankAccount)
	c.SellerBankName = clonePtr(b.SellerBankName)
	c.SellerRejectionReason = clonePtr(b.SellerRejectionReason)
	c.BillImageURL = clonePtr(b.BillImageURL)
	c.AdminMessage = clonePtr(b.AdminMessage)
	c.AdminMessageAt = cloneTime(b.AdminMessageAt)
	c.AdminSellerMessage = clonePtr(b.AdminSellerMessage)
	c.AdminSellerMessageAt = cloneTime(b.AdminSellerMessageAt)
	c.BuyerReply = clonePtr(b.BuyerReply)
	c.BuyerReplyAt = cloneTime(b.BuyerReplyAt)
	c.Content = clonePtr(b.Content)
	c.ImageURL = clonePtr(b.ImageURL)
	c.TransactionFee = clonePtr(b.TransactionFee)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	return clonePtr(t)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
