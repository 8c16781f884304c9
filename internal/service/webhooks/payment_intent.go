package webhooks

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

// HandlePaymentFailed only records the failure. Nothing on the ledger exists yet.
func (p *Processor) HandlePaymentFailed(ctx context.Context, pi *stripe.PaymentIntent) error {
	ev := p.logger.Warn().
		Str("payment_intent", pi.ID).
		Int64("amount", pi.Amount).
		Str("currency", string(pi.Currency)).
		Str("event_id", pi.Metadata[metaEventID]).
		Str("guest_email", pi.Metadata[metaGuestEmail])
	if pi.LastPaymentError != nil {
		ev = ev.Str("error_code", string(pi.LastPaymentError.Code)).Str("error_message", pi.LastPaymentError.Msg)
	}
	ev.Msg("payment failed")
	return nil
}

// HandlePaymentSucceeded settles meetings booked with a delayed payment method.
func (p *Processor) HandlePaymentSucceeded(ctx context.Context, pi *stripe.PaymentIntent) error {
	n, err := p.meetings.UpdatePaymentStatus(ctx, pi.ID, string(stripe.PaymentIntentStatusSucceeded))
	if err != nil {
		return err
	}
	p.logger.Info().Str("payment_intent", pi.ID).Int64("meetings_updated", n).Msg("payment succeeded")
	return nil
}
