// Package webhooks applies payment provider events to the ledger.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/payments"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
)

var (
	ErrMissingConnectAccount = errors.New("missing connected account")
	ErrMissingMetadata       = errors.New("missing required metadata")
)

// releaseTimeout bounds the claim release, which outlives the request.
const releaseTimeout = 5 * time.Second

const (
	SourcePlatform = "stripe"
	SourceConnect  = "stripe-connect"
	SourceIdentity = "stripe-identity"
)

// TransferCreator moves funds into a connected account.
type TransferCreator interface {
	CreateTransfer(ctx context.Context, req payments.TransferRequest) (string, error)
}

// EventClaimer deduplicates provider deliveries.
type EventClaimer interface {
	Claim(ctx context.Context, source, eventID string) (bool, error)
	Release(ctx context.Context, source, eventID string) error
}

type Processor struct {
	transfers     repository.TransferRepository
	users         repository.UserRepository
	events        repository.EventRepository
	meetings      repository.MeetingRepository
	provider      TransferCreator
	notifier      notify.Dispatcher
	claims        EventClaimer
	feePercent    int64
	retryAttempts int
	retryBase     time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithEventClaims(c EventClaimer) Option {
	return func(p *Processor) { p.claims = c }
}

func WithRetry(attempts int, base time.Duration) Option {
	return func(p *Processor) {
		p.retryAttempts = attempts
		p.retryBase = base
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithPlatformFee(percent int64) Option {
	return func(p *Processor) { p.feePercent = percent }
}

func NewProcessor(
	transfers repository.TransferRepository,
	users repository.UserRepository,
	events repository.EventRepository,
	meetings repository.MeetingRepository,
	provider TransferCreator,
	notifier notify.Dispatcher,
	opts ...Option,
) *Processor {
	p := &Processor{
		transfers:     transfers,
		users:         users,
		events:        events,
		meetings:      meetings,
		provider:      provider,
		notifier:      notifier,
		feePercent:    15,
		retryAttempts: 3,
		retryBase:     time.Second,
		now:           time.Now,
		logger:        log.With().Str("component", "webhooks").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch routes a verified event to its handler. Events already claimed by
// an earlier delivery are acknowledged without reprocessing.
func (p *Processor) Dispatch(ctx context.Context, source string, evt stripe.Event) error {
	logger := p.logger.With().Str("source", source).Str("event_id", evt.ID).Str("event_type", string(evt.Type)).Logger()

	if p.claims != nil && evt.ID != "" {
		ok, err := p.claims.Claim(ctx, source, evt.ID)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("event claim unavailable, processing anyway")
		case !ok:
			logger.Info().Msg("duplicate event delivery skipped")
			return nil
		}
	}

	err := p.route(ctx, evt)
	if err != nil {
		logger.Error().Err(err).Msg("event processing failed")
		if p.claims != nil && evt.ID != "" {
			p.release(ctx, logger, source, evt.ID)
		}
		return err
	}
	logger.Debug().Msg("event processed")
	return nil
}

// release drops the claim so a redelivery is processed. It runs detached from
// ctx: a client disconnect must not leave the event claimed until the TTL.
func (p *Processor) release(ctx context.Context, logger zerolog.Logger, source, eventID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := p.claims.Release(rctx, source, eventID); err != nil {
		logger.Warn().Err(err).Msg("release event claim failed")
	}
}

func (p *Processor) route(ctx context.Context, evt stripe.Event) error {
	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var s stripe.CheckoutSession
		if err := decode(evt, &s); err != nil {
			return err
		}
		return p.HandleCheckoutCompleted(ctx, &s)

	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := decode(evt, &pi); err != nil {
			return err
		}
		return p.HandlePaymentFailed(ctx, &pi)

	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := decode(evt, &pi); err != nil {
			return err
		}
		return p.HandlePaymentSucceeded(ctx, &pi)

	case stripe.EventTypeIdentityVerificationSessionVerified,
		stripe.EventTypeIdentityVerificationSessionRequiresInput,
		stripe.EventTypeIdentityVerificationSessionProcessing,
		stripe.EventTypeIdentityVerificationSessionCanceled:
		var vs stripe.IdentityVerificationSession
		if err := decode(evt, &vs); err != nil {
			return err
		}
		return p.HandleIdentityVerification(ctx, &vs)

	case stripe.EventTypeAccountUpdated:
		var acct stripe.Account
		if err := decode(evt, &acct); err != nil {
			return err
		}
		return p.HandleAccountUpdated(ctx, &acct)

	case stripe.EventTypeAccountExternalAccountCreated, stripe.EventTypeAccountExternalAccountUpdated:
		var bank stripe.BankAccount
		if err := decode(evt, &bank); err != nil {
			return err
		}
		if bank.Object != "" && bank.Object != "bank_account" {
			return nil
		}
		return p.HandleExternalAccount(ctx, connectedAccount(evt, bank.Account), &bank)

	case stripe.EventTypePayoutFailed, stripe.EventTypePayoutPaid:
		var po stripe.Payout
		if err := decode(evt, &po); err != nil {
			return err
		}
		return p.HandlePayout(ctx, evt.Account, &po)

	default:
		p.logger.Debug().Str("event_type", string(evt.Type)).Msg("unhandled event type")
		return nil
	}
}

func decode(evt stripe.Event, v any) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return fmt.Errorf("event %s: empty data", evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, v); err != nil {
		return fmt.Errorf("event %s: decode %s: %w", evt.ID, evt.Type, err)
	}
	return nil
}

func connectedAccount(evt stripe.Event, acct *stripe.Account) string {
	if evt.Account != "" {
		return evt.Account
	}
	if acct != nil {
		return acct.ID
	}
	return ""
}
