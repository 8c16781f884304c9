// Package notify triggers notification workflows. Dispatch is best effort:
// callers commit their ledger change first and may ignore the Result.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	WorkflowPaymentReminder      = "multibanco-payment-reminder"
	WorkflowPayoutCompleted      = "payout-completed"
	WorkflowPayoutFailed         = "payout-failed"
	WorkflowIdentityVerified     = "identity-verification-complete"
	WorkflowIdentityNeedsInput   = "identity-verification-needs-attention"
	WorkflowConnectAccountStatus = "connect-account-status"
)

// Subscriber is the notification recipient.
type Subscriber struct {
	ID        string
	Email     string
	FirstName string
	Locale    string
}

type Trigger struct {
	Workflow      string
	To            Subscriber
	Payload       map[string]any
	TransactionID string
}

type Result struct {
	OK            bool
	TransactionID string
	Err           error
}

type Dispatcher interface {
	Trigger(ctx context.Context, t Trigger) Result
}

func ensureTransactionID(t *Trigger) {
	if t.TransactionID == "" {
		t.TransactionID = uuid.NewString()
	}
}

// LogDispatcher only logs triggers. Used when no provider is configured.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{log: log.With().Str("component", "notify_log").Logger()}
}

func (d *LogDispatcher) Trigger(ctx context.Context, t Trigger) Result {
	ensureTransactionID(&t)
	d.log.Info().
		Str("workflow", t.Workflow).
		Str("subscriber_id", t.To.ID).
		Str("transaction_id", t.TransactionID).
		Interface("payload", t.Payload).
		Msg("notification trigger")
	return Result{OK: true, TransactionID: t.TransactionID}
}

var _ Dispatcher = (*LogDispatcher)(nil)
