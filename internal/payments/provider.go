package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoAvailableBalance = errors.New("No available balance")

const (
	CodeNoAvailableBalance = "no_available_balance"
	CodeConnectionError    = "connection_error"
	CodeUnknown            = "unknown_error"
)

// Provider is the subset of the payment provider this service drives.
type Provider interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	AvailableBalance(ctx context.Context, accountID, currency string) (int64, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (string, error)
	PaymentVoucher(ctx context.Context, paymentIntentID string) (*Voucher, error)
	CustomerName(ctx context.Context, customerID string) (string, error)
}

type TransferRequest struct {
	Amount          int64
	Currency        string
	Destination     string
	PaymentIntentID string
	TransferGroup   string
	Metadata        map[string]string
	IdempotencyKey  string
}

type PayoutRequest struct {
	AccountID      string
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Voucher carries the out-of-band payment details shown to the payer.
// CustomerName is empty when checkout stored no name; CustomerID then points
// at the record to look it up from.
type Voucher struct {
	PaymentIntentID  string
	Entity           string
	Reference        string
	Amount           int64
	Currency         string
	ExpiresAt        time.Time
	HostedVoucherURL string
	Locale           string
	CustomerName     string
	CustomerID       string
}

// Error is a provider failure normalized for ledger records.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts the normalized provider error, wrapping anything else as unknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, ErrNoAvailableBalance) {
		return &Error{Code: CodeNoAvailableBalance, Message: ErrNoAvailableBalance.Error(), Err: err}
	}
	return &Error{Code: CodeUnknown, Message: err.Error(), Err: err}
}
