package escrow

import (
	"time"

	"github.com/honeynil/PaymentBoxService/internal/models"
)

const day = 24 * time.Hour

// RemainingDays returns the whole days left in the payment window, floored at zero.
// ok is false when the window has not started or the box has no window.
func RemainingDays(box *models.PaymentBox, now time.Time) (remaining int32, ok bool) {
	if box == nil || box.TransactionStartAt == nil || box.PaymentDurationDays == nil {
		return 0, false
	}
	if box.PaymentDuration != nil && *box.PaymentDuration == models.DurationNoTime {
		return 0, false
	}
	if *box.PaymentDurationDays <= 0 {
		return 0, false
	}

	elapsed := now.Sub(*box.TransactionStartAt)
	if elapsed < 0 {
		elapsed = 0
	}
	left := int64(*box.PaymentDurationDays) - int64(elapsed/day)
	if left < 0 {
		left = 0
	}
	return int32(left), true
}

func Expired(box *models.PaymentBox, now time.Time) bool {
	remaining, ok := RemainingDays(box, now)
	return ok && remaining <= 0
}

// Deadline is the instant the payment window lapses.
func Deadline(box *models.PaymentBox) (time.Time, bool) {
	if box == nil || box.TransactionStartAt == nil {
		return time.Time{}, false
	}
	if _, ok := RemainingDays(box, *box.TransactionStartAt); !ok {
		return time.Time{}, false
	}
	return box.TransactionStartAt.UTC().AddDate(0, 0, int(*box.PaymentDurationDays)), true
}
