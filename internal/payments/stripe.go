package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider on top of a per-process Stripe client.
type StripeProvider struct {
	api    *client.API
	logger zerolog.Logger
}

type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backend stripe.Backend
}

// WithBackend routes every API call through b instead of the default
// api.stripe.com backend.
func WithBackend(b stripe.Backend) StripeOption {
	return func(o *stripeOptions) { o.backend = b }
}

// WithBaseURL points the API backend at url, with the SDK's own retries off.
func WithBaseURL(url string, httpClient *http.Client) StripeOption {
	return WithBackend(stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		HTTPClient:        httpClient,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}))
}

func NewStripeProvider(secretKey string, opts ...StripeOption) *StripeProvider {
	var o stripeOptions
	for _, opt := range opts {
		opt(&o)
	}
	var backends *stripe.Backends
	if o.backend != nil {
		backends = &stripe.Backends{API: o.backend, Connect: o.backend, Uploads: o.backend, MeterEvents: o.backend}
	}

	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProvider{
		api:    api,
		logger: log.With().Str("component", "stripe").Logger(),
	}
}

func (p *StripeProvider) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
		Metadata:    req.Metadata,
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	t, err := p.api.Transfers.New(params)
	if err != nil {
		return "", classify(err)
	}
	p.logger.Info().Str("transfer_id", t.ID).Str("destination", req.Destination).Int64("amount", req.Amount).Msg("transfer created")
	return t.ID, nil
}

func (p *StripeProvider) AvailableBalance(ctx context.Context, accountID, currency string) (int64, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	b, err := p.api.Balance.Get(params)
	if err != nil {
		return 0, classify(err)
	}
	return availableIn(b, currency), nil
}

func availableIn(b *stripe.Balance, currency string) int64 {
	if b == nil {
		return 0
	}
	for _, a := range b.Available {
		if a != nil && strings.EqualFold(string(a.Currency), currency) {
			return a.Amount
		}
	}
	return 0
}

func (p *StripeProvider) CreatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Metadata: req.Metadata,
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetStripeAccount(req.AccountID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	po, err := p.api.Payouts.New(params)
	if err != nil {
		return "", classify(err)
	}
	p.logger.Info().Str("payout_id", po.ID).Str("account", req.AccountID).Int64("amount", req.Amount).Msg("payout created")
	return po.ID, nil
}

// PaymentVoucher reads the intent without expanding the customer. The name
// comes from checkout metadata only; callers resolve CustomerID themselves.
func (p *StripeProvider) PaymentVoucher(ctx context.Context, paymentIntentID string) (*Voucher, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return nil, classify(err)
	}
	return voucherFromIntent(pi), nil
}

func (p *StripeProvider) CustomerName(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(c.Name), nil
}

// payerName reads the name stored at checkout.
func payerName(pi *stripe.PaymentIntent) string {
	for _, k := range []string{"guestName", "customerName", "patientName"} {
		if v := strings.TrimSpace(pi.Metadata[k]); v != "" {
			return v
		}
	}
	return ""
}

func voucherFromIntent(pi *stripe.PaymentIntent) *Voucher {
	v := &Voucher{
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Locale:          pi.Metadata["locale"],
		CustomerName:    payerName(pi),
	}
	if v.Locale == "" {
		v.Locale = "en"
	}
	if pi.Customer != nil {
		v.CustomerID = pi.Customer.ID
	}
	if pi.NextAction != nil && pi.NextAction.MultibancoDisplayDetails != nil {
		d := pi.NextAction.MultibancoDisplayDetails
		v.Entity = d.Entity
		v.Reference = d.Reference
		v.HostedVoucherURL = d.HostedVoucherURL
		if d.ExpiresAt > 0 {
			v.ExpiresAt = time.Unix(d.ExpiresAt, 0).UTC()
		}
	}
	return v
}

// classify maps Stripe failures onto *Error. Rate limits, server errors and
// transport failures are retryable.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		retryable := se.HTTPStatusCode == http.StatusTooManyRequests ||
			se.Code == stripe.ErrorCodeRateLimit ||
			se.HTTPStatusCode >= http.StatusInternalServerError
		code := string(se.Code)
		if code == "" {
			code = string(se.Type)
		}
		return &Error{Code: code, Message: se.Msg, HTTPStatus: se.HTTPStatusCode, Retryable: retryable, Err: err}
	}
	return &Error{Code: CodeConnectionError, Message: err.Error(), Retryable: true, Err: err}
}

// VerifyEvent checks the signature header against secret and decodes the event.
func VerifyEvent(payload []byte, header, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

var _ Provider = (*StripeProvider)(nil)
