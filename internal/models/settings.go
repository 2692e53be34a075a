package models

import "time"

// PaymentBoxSettings holds the payment instructions an admin shows to buyers.
type PaymentBoxSettings struct {
	ID             string    `json:"id"`
	Content        *string   `json:"content,omitempty"`
	ImageURL       *string   `json:"image_url,omitempty"`
	TransactionFee *string   `json:"transaction_fee,omitempty"`
	HasFee         bool      `json:"has_fee"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
