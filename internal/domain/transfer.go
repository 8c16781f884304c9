package domain

import (
	"fmt"
	"time"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusApproved  TransferStatus = "APPROVED"
	TransferStatusCompleted TransferStatus = "COMPLETED"
	TransferStatusFailed    TransferStatus = "FAILED"
	TransferStatusPaidOut   TransferStatus = "PAID_OUT"
)

// ParseTransferStatus converts the stored column value into a TransferStatus.
// Unknown values are rejected so that in-process switches stay exhaustive.
func ParseTransferStatus(s string) (TransferStatus, error) {
	switch st := TransferStatus(s); st {
	case TransferStatusPending, TransferStatusApproved, TransferStatusCompleted,
		TransferStatusFailed, TransferStatusPaidOut:
		return st, nil
	default:
		return "", fmt.Errorf("unknown transfer status %q", s)
	}
}

func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferStatusFailed, TransferStatusPaidOut:
		return true
	default:
		return false
	}
}

// PaymentTransfer is one completed charge awaiting payout to the expert.
type PaymentTransfer struct {
	ID                     int64
	PaymentIntentID        string
	CheckoutSessionID      string
	EventID                string
	ExpertConnectAccountID string
	ExpertUserID           string
	Amount                 int64
	PlatformFee            int64
	Currency               string
	SessionStartTime       time.Time
	ScheduledTransferTime  time.Time
	Status                 TransferStatus
	TransferID             *string
	PayoutID               *string
	StripeErrorCode        *string
	StripeErrorMessage     *string
	RetryCount             int
	RequiresApproval       bool
	AdminNotes             *string
	PayoutRequestedAmount  *int64
	PayoutRequestedAt      *time.Time
	Created                time.Time
	Updated                time.Time
}

// Transition moves the transfer to the next status or reports why it cannot.
//
//	PENDING   -> APPROVED | COMPLETED (no approval required) | FAILED
//	APPROVED  -> COMPLETED | FAILED
//	COMPLETED -> PAID_OUT | FAILED
func (t *PaymentTransfer) Transition(to TransferStatus) error {
	if t.Status.Terminal() {
		return fmt.Errorf("transfer %d: status %s is terminal", t.ID, t.Status)
	}
	ok := false
	switch t.Status {
	case TransferStatusPending:
		switch to {
		case TransferStatusApproved, TransferStatusFailed:
			ok = true
		case TransferStatusCompleted:
			ok = !t.RequiresApproval
		}
	case TransferStatusApproved:
		ok = to == TransferStatusCompleted || to == TransferStatusFailed
	case TransferStatusCompleted:
		ok = to == TransferStatusPaidOut || to == TransferStatusFailed
	}
	if !ok {
		return fmt.Errorf("transfer %d: cannot move from %s to %s", t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}

// PayoutPending reports whether the transfer is waiting for a payout.
func (t PaymentTransfer) PayoutPending() bool {
	return t.Status == TransferStatusCompleted && t.PayoutID == nil
}

// PendingPayoutRequest returns the amount and time of a payout request that
// was sent without its outcome being recorded.
func (t PaymentTransfer) PendingPayoutRequest() (int64, time.Time, bool) {
	if t.PayoutID != nil || t.PayoutRequestedAmount == nil || t.PayoutRequestedAt == nil {
		return 0, time.Time{}, false
	}
	return *t.PayoutRequestedAmount, *t.PayoutRequestedAt, true
}

// LastChange is the reference point for the payout delay.
func (t PaymentTransfer) LastChange() time.Time {
	if !t.Updated.IsZero() {
		return t.Updated
	}
	return t.Created
}
