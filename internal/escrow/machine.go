// Package escrow implements the payment box state machine. It performs no I/O:
// callers load a record, apply a command and persist the result themselves.
package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/models"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
)

type Action string

const (
	ActionSelectDuration Action = "select_duration"
	ActionMarkPaid       Action = "mark_paid"
	ActionAdminConfirm   Action = "admin_confirm"
	ActionReject         Action = "reject"
	ActionCancel         Action = "cancel"
	ActionSellerComplete Action = "seller_complete"
	ActionConfirmReceipt Action = "confirm_receipt"
	ActionRequestRefund  Action = "request_refund"
	ActionApproveRefund  Action = "approve_refund"
	ActionRequestPayout  Action = "request_payout"
	ActionCompletePayout Action = "complete_payout"
	ActionMessageBuyer   Action = "message_buyer"
	ActionMessageSeller  Action = "message_seller"
	ActionReplyAdmin     Action = "reply_admin"
)

// Actions lists every action in the order they normally occur.
var Actions = []Action{
	ActionSelectDuration,
	ActionMarkPaid,
	ActionAdminConfirm,
	ActionReject,
	ActionCancel,
	ActionSellerComplete,
	ActionConfirmReceipt,
	ActionRequestRefund,
	ActionApproveRefund,
	ActionRequestPayout,
	ActionCompletePayout,
	ActionMessageBuyer,
	ActionMessageSeller,
	ActionReplyAdmin,
}

func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", pkgerrors.ErrUnknownAction, s)
}

// EventType is the change event name emitted after the action is persisted.
func (a Action) EventType() string {
	return "payment_box." + string(a)
}

// Command carries an action and the inputs some actions require.
type Command struct {
	Action       Action
	Duration     *models.PaymentDuration
	BillImageURL string
	Reason       string
	BankAccount  string
	BankName     string
	Message      string
}

type Policy struct {
	// ConfirmOnlyAfterExpiry keeps confirm_receipt closed until the payment window lapses.
	// Boxes without a window (no_time) can always be confirmed.
	ConfirmOnlyAfterExpiry bool
}

type Machine struct {
	policy Policy
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy}
}

// Apply validates cmd against box and returns the resulting record. box is never modified.
func (m *Machine) Apply(box *models.PaymentBox, cmd Command, actor models.Actor, now time.Time) (*models.PaymentBox, error) {
	if box == nil {
		return nil, pkgerrors.ErrNilPaymentBox
	}
	if err := m.Check(box, cmd.Action, actor, now); err != nil {
		return nil, err
	}
	if err := validateInput(box, cmd); err != nil {
		return nil, err
	}

	now = now.UTC()
	next := box.Clone()
	switch cmd.Action {
	case ActionSelectDuration:
		kind := cmd.Duration.Kind
		days := cmd.Duration.Days
		next.PaymentDuration = &kind
		next.PaymentDurationDays = &days
		next.ConfirmedAt = &now
	case ActionMarkPaid:
		next.Status = models.StatusBuyerPaid
		if url := strings.TrimSpace(cmd.BillImageURL); url != "" {
			next.BillImageURL = &url
		}
	case ActionAdminConfirm:
		next.Status = models.StatusAdminConfirmed
		next.AdminConfirmedAt = &now
		next.TransactionStartAt = &now
	case ActionReject:
		if box.Phase() == models.PhaseBuyerPaid {
			next.SellerRejectionReason = trimmed(cmd.Reason)
		}
		next.Status = models.StatusRejected
	case ActionCancel:
		next.Status = models.StatusCancelled
		next.SellerCancelledAt = &now
	case ActionSellerComplete:
		next.SellerCompletedAt = &now
	case ActionConfirmReceipt:
		next.BuyerConfirmedAt = &now
	case ActionRequestRefund:
		next.Status = models.StatusRefundRequested
		next.RefundRequestedAt = &now
		next.RefundReason = trimmed(cmd.Reason)
		next.BuyerBankAccount = trimmed(cmd.BankAccount)
		next.BuyerBankName = trimmed(cmd.BankName)
	case ActionApproveRefund:
		next.Status = models.StatusRefunded
		next.RefundApprovedAt = &now
	case ActionRequestPayout:
		next.SellerBankAccount = trimmed(cmd.BankAccount)
		next.SellerBankName = trimmed(cmd.BankName)
		next.SellerConfirmedAt = &now
	case ActionCompletePayout:
		next.Status = models.StatusCompleted
	case ActionMessageBuyer:
		next.AdminMessage = trimmed(cmd.Message)
		next.AdminMessageAt = &now
	case ActionMessageSeller:
		next.AdminSellerMessage = trimmed(cmd.Message)
		next.AdminSellerMessageAt = &now
	case ActionReplyAdmin:
		next.BuyerReply = trimmed(cmd.Message)
		next.BuyerReplyAt = &now
	}
	next.UpdatedAt = now
	return next, nil
}

// Check runs the actor and state guards of action without looking at command inputs.
func (m *Machine) Check(box *models.PaymentBox, action Action, actor models.Actor, now time.Time) error {
	if box == nil {
		return pkgerrors.ErrNilPaymentBox
	}
	if box.Status.Terminal() {
		return fmt.Errorf("%w: payment box is %s", pkgerrors.ErrInvalidState, box.Status)
	}

	phase := box.Phase()
	switch action {
	case ActionSelectDuration:
		if err := requireReceiver(box, actor); err != nil {
			return err
		}
		if phase != models.PhasePending || box.DurationSelected() {
			return stateError(action, box)
		}
	case ActionMarkPaid:
		if err := requireReceiver(box, actor); err != nil {
			return err
		}
		if phase != models.PhasePending {
			return stateError(action, box)
		}
		if !box.DurationSelected() {
			return fmt.Errorf("%w: payment duration must be selected before paying", pkgerrors.ErrMissingField)
		}
	case ActionAdminConfirm, ActionApproveRefund, ActionCompletePayout:
		if err := requireAdmin(actor); err != nil {
			return err
		}
		if phase != adminSource[action] {
			return stateError(action, box)
		}
	case ActionReject:
		switch phase {
		case models.PhasePending:
			return requireReceiver(box, actor)
		case models.PhaseBuyerPaid:
			return requireSender(box, actor)
		default:
			return stateError(action, box)
		}
	case ActionCancel:
		if err := requireSender(box, actor); err != nil {
			return err
		}
		if phase != models.PhasePending && phase != models.PhaseAdminConfirmed {
			return stateError(action, box)
		}
	case ActionSellerComplete:
		if err := requireSender(box, actor); err != nil {
			return err
		}
		if phase != models.PhaseAdminConfirmed {
			return stateError(action, box)
		}
	case ActionConfirmReceipt:
		if err := requireReceiver(box, actor); err != nil {
			return err
		}
		if phase != models.PhaseSellerCompleted {
			return stateError(action, box)
		}
		if m.policy.ConfirmOnlyAfterExpiry {
			if _, windowed := RemainingDays(box, now); windowed && !Expired(box, now) {
				return fmt.Errorf("%w: receipt can be confirmed once the payment window lapses", pkgerrors.ErrInvalidState)
			}
		}
	case ActionRequestRefund:
		if err := requireReceiver(box, actor); err != nil {
			return err
		}
		if phase != models.PhaseAdminConfirmed {
			return stateError(action, box)
		}
	case ActionRequestPayout:
		if err := requireSender(box, actor); err != nil {
			return err
		}
		if phase != models.PhaseBuyerConfirmed {
			return stateError(action, box)
		}
	case ActionMessageBuyer, ActionMessageSeller:
		return requireAdmin(actor)
	case ActionReplyAdmin:
		if err := requireReceiver(box, actor); err != nil {
			return err
		}
		if box.AdminMessage == nil {
			return fmt.Errorf("%w: there is no admin message to reply to", pkgerrors.ErrInvalidState)
		}
	default:
		return fmt.Errorf("%w: %q", pkgerrors.ErrUnknownAction, action)
	}
	return nil
}

// Available lists the actions actor may currently attempt on box.
func (m *Machine) Available(box *models.PaymentBox, actor models.Actor, now time.Time) []Action {
	available := make([]Action, 0, 4)
	for _, action := range Actions {
		if m.Check(box, action, actor, now) == nil {
			available = append(available, action)
		}
	}
	return available
}

var adminSource = map[Action]models.Phase{
	ActionAdminConfirm:   models.PhaseBuyerPaid,
	ActionApproveRefund:  models.PhaseRefundRequested,
	ActionCompletePayout: models.PhaseSellerRequestedPayout,
}

func validateInput(box *models.PaymentBox, cmd Command) error {
	var missing []string
	switch cmd.Action {
	case ActionSelectDuration:
		if cmd.Duration == nil {
			missing = append(missing, "duration")
		}
	case ActionReject:
		if box.Phase() == models.PhaseBuyerPaid && blank(cmd.Reason) {
			missing = append(missing, "reason")
		}
	case ActionRequestRefund:
		if blank(cmd.Reason) {
			missing = append(missing, "reason")
		}
		if blank(cmd.BankAccount) {
			missing = append(missing, "bank_account")
		}
		if blank(cmd.BankName) {
			missing = append(missing, "bank_name")
		}
	case ActionRequestPayout:
		if blank(cmd.BankAccount) {
			missing = append(missing, "bank_account")
		}
		if blank(cmd.BankName) {
			missing = append(missing, "bank_name")
		}
	case ActionMessageBuyer, ActionMessageSeller, ActionReplyAdmin:
		if blank(cmd.Message) {
			missing = append(missing, "message")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

func requireSender(box *models.PaymentBox, actor models.Actor) error {
	if actor.ID == "" || actor.ID != box.SenderID {
		return fmt.Errorf("%w: only the seller can do this", pkgerrors.ErrInvalidActor)
	}
	return nil
}

func requireReceiver(box *models.PaymentBox, actor models.Actor) error {
	if actor.ID == "" || actor.ID != box.ReceiverID {
		return fmt.Errorf("%w: only the buyer can do this", pkgerrors.ErrInvalidActor)
	}
	return nil
}

func requireAdmin(actor models.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", pkgerrors.ErrInvalidActor)
	}
	return nil
}

func stateError(action Action, box *models.PaymentBox) error {
	return fmt.Errorf("%w: %s is not allowed in phase %s", pkgerrors.ErrInvalidState, action, box.Phase())
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func trimmed(s string) *string {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return &v
}
