package models

import (
	"fmt"

	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
)

type DurationKind string

const (
	Duration24Hours DurationKind = "24h"
	Duration3Days   DurationKind = "3days"
	Duration7Days   DurationKind = "7days"
	Duration1Month  DurationKind = "1month"
	DurationCustom  DurationKind = "custom"
	DurationNoTime  DurationKind = "no_time"
)

// MaxCustomDays caps a custom window at roughly a century.
const MaxCustomDays = 36500

// PaymentDuration is the transaction window chosen by the buyer.
// Days is zero only for DurationNoTime, which has no window at all.
type PaymentDuration struct {
	Kind DurationKind
	Days int32
}

func NewPaymentDuration(kind DurationKind, customDays int32) (PaymentDuration, error) {
	switch kind {
	case Duration24Hours:
		return PaymentDuration{Kind: kind, Days: 1}, nil
	case Duration3Days:
		return PaymentDuration{Kind: kind, Days: 3}, nil
	case Duration7Days:
		return PaymentDuration{Kind: kind, Days: 7}, nil
	case Duration1Month:
		return PaymentDuration{Kind: kind, Days: 30}, nil
	case DurationCustom:
		if customDays < 1 {
			return PaymentDuration{}, fmt.Errorf("%w: custom duration needs at least 1 day, got %d", pkgerrors.ErrInvalidDuration, customDays)
		}
		if customDays > MaxCustomDays {
			return PaymentDuration{}, fmt.Errorf("%w: custom duration is limited to %d days, got %d", pkgerrors.ErrInvalidDuration, MaxCustomDays, customDays)
		}
		return PaymentDuration{Kind: kind, Days: customDays}, nil
	case DurationNoTime:
		return PaymentDuration{Kind: kind}, nil
	}
	return PaymentDuration{}, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidDuration, kind)
}

func (d PaymentDuration) Unlimited() bool {
	return d.Kind == DurationNoTime
}
