package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/payments"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/retry"
	"github.com/stripe/stripe-go/v82"
)

// Metadata keys written on the checkout session when it is created.
const (
	metaEventID         = "eventId"
	metaConnectAccount  = "expertConnectAccountId"
	metaExpertUserID    = "expertUserId"
	metaGuestEmail      = "guestEmail"
	metaGuestName       = "guestName"
	metaTimezone        = "timezone"
	metaStartTime       = "startTime"
	metaNotes           = "notes"
	metaLocale          = "locale"
	paymentStatusPaid   = "paid"
	paymentStatusUnpaid = "unpaid"
)

// PlatformFee is the platform's share of amount, rounded to the nearest cent.
func PlatformFee(amount, percent int64) int64 {
	return (amount*percent + 50) / 100
}

type checkoutDetails struct {
	eventID      string
	guestEmail   string
	guestName    string
	timezone     string
	notes        string
	locale       string
	start        time.Time
	account      string
	expertUserID string
}

func parseCheckout(s *stripe.CheckoutSession) (checkoutDetails, error) {
	md := s.Metadata
	d := checkoutDetails{
		eventID:      md[metaEventID],
		guestEmail:   md[metaGuestEmail],
		guestName:    md[metaGuestName],
		timezone:     md[metaTimezone],
		notes:        md[metaNotes],
		locale:       md[metaLocale],
		account:      md[metaConnectAccount],
		expertUserID: md[metaExpertUserID],
	}
	if s.CustomerDetails != nil {
		if d.guestEmail == "" {
			d.guestEmail = s.CustomerDetails.Email
		}
		if d.guestName == "" {
			d.guestName = s.CustomerDetails.Name
		}
	}
	if d.timezone == "" {
		d.timezone = "UTC"
	}

	var missing []string
	if d.eventID == "" {
		missing = append(missing, metaEventID)
	}
	if d.guestEmail == "" {
		missing = append(missing, metaGuestEmail)
	}
	start, err := time.Parse(time.RFC3339, md[metaStartTime])
	if err != nil {
		missing = append(missing, metaStartTime)
	}
	if len(missing) > 0 {
		return d, fmt.Errorf("%w: %s", ErrMissingMetadata, strings.Join(missing, ", "))
	}
	d.start = start.UTC()
	return d, nil
}

// HandleCheckoutCompleted transfers the expert's share of a paid session and
// promotes the reservation into a meeting. The sequence is retried as a whole.
func (p *Processor) HandleCheckoutCompleted(ctx context.Context, s *stripe.CheckoutSession) error {
	logger := p.logger.With().Str("checkout_session", s.ID).Logger()

	err := retry.Do(ctx, p.retryAttempts, p.retryBase, func(ctx context.Context) error {
		return p.processCheckout(ctx, s)
	})
	if err != nil {
		logger.Error().Err(err).Bool("needs_manual_intervention", true).Msg("checkout processing failed")
		return err
	}
	return nil
}

func (p *Processor) processCheckout(ctx context.Context, s *stripe.CheckoutSession) error {
	d, err := parseCheckout(s)
	if err != nil {
		return retry.Permanent(err)
	}

	event, err := p.events.GetByID(ctx, d.eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return retry.Permanent(fmt.Errorf("event %s: %w", d.eventID, err))
		}
		return err
	}
	if d.expertUserID == "" {
		d.expertUserID = event.UserID
	}

	var piID string
	if s.PaymentIntent != nil {
		piID = s.PaymentIntent.ID
	}
	paid := string(s.PaymentStatus) == paymentStatusPaid

	if paid && piID != "" {
		if err := p.transferExpertShare(ctx, s, d, piID); err != nil {
			return err
		}
	}

	status := string(s.PaymentStatus)
	if status == "" {
		status = paymentStatusUnpaid
	}
	created, err := p.meetings.CreateFromCheckout(ctx, domain.Meeting{
		EventID:               d.eventID,
		ExpertUserID:          d.expertUserID,
		GuestEmail:            d.guestEmail,
		GuestName:             d.guestName,
		Timezone:              d.timezone,
		StartTime:             d.start,
		EndTime:               d.start.Add(time.Duration(event.DurationMinutes) * time.Minute),
		GuestNotes:            d.notes,
		Locale:                d.locale,
		StripeSessionID:       s.ID,
		StripePaymentIntentID: piID,
		StripePaymentStatus:   status,
	})
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("checkout_session", s.ID).
		Str("event_id", d.eventID).
		Bool("meeting_created", created).
		Str("payment_status", status).
		Msg("checkout processed")
	return nil
}

func (p *Processor) transferExpertShare(ctx context.Context, s *stripe.CheckoutSession, d checkoutDetails, piID string) error {
	account := d.account
	if account == "" {
		expert, err := p.users.GetByID(ctx, d.expertUserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return retry.Permanent(fmt.Errorf("expert %s: %w", d.expertUserID, err))
			}
			return err
		}
		acct, ok := expert.ConnectAccount()
		if !ok {
			return retry.Permanent(fmt.Errorf("expert %s: %w", d.expertUserID, ErrMissingConnectAccount))
		}
		account = acct
	}

	amount := s.AmountTotal
	fee := PlatformFee(amount, p.feePercent)
	share := amount - fee
	currency := string(s.Currency)

	transferID, err := p.provider.CreateTransfer(ctx, payments.TransferRequest{
		Amount:          share,
		Currency:        currency,
		Destination:     account,
		PaymentIntentID: piID,
		TransferGroup:   "session_" + s.ID,
		Metadata: map[string]string{
			"paymentIntentId":   piID,
			"checkoutSessionId": s.ID,
			"eventId":           d.eventID,
			"expertUserId":      d.expertUserID,
			"platformFee":       fmt.Sprint(fee),
		},
		IdempotencyKey: "transfer-" + piID,
	})
	if err != nil {
		if pe := payments.AsError(err); !pe.Retryable {
			return retry.Permanent(err)
		}
		return err
	}

	t := &domain.PaymentTransfer{
		PaymentIntentID:        piID,
		CheckoutSessionID:      s.ID,
		EventID:                d.eventID,
		ExpertConnectAccountID: account,
		ExpertUserID:           d.expertUserID,
		Amount:                 share,
		PlatformFee:            fee,
		Currency:               currency,
		SessionStartTime:       d.start,
		ScheduledTransferTime:  p.now().UTC(),
		Status:                 domain.TransferStatusPending,
		TransferID:             &transferID,
	}
	if err := t.Transition(domain.TransferStatusCompleted); err != nil {
		return retry.Permanent(err)
	}
	created, err := p.transfers.Create(ctx, t)
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("payment_intent", piID).
		Str("transfer_id", transferID).
		Int64("amount", share).
		Int64("platform_fee", fee).
		Bool("ledger_row_created", created).
		Msg("expert share transferred")
	return nil
}
