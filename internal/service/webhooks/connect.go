package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/stripe/stripe-go/v82"
)

// HandleAccountUpdated mirrors the connected account's capability flags.
func (p *Processor) HandleAccountUpdated(ctx context.Context, acct *stripe.Account) error {
	logger := p.logger.With().Str("account", acct.ID).Logger()

	caps := domain.ConnectCapabilities{
		AccountID:        acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}

	before, err := p.users.GetByConnectAccount(ctx, acct.ID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn().Msg("account update for unknown connected account")
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.users.UpdateConnectCapabilities(ctx, caps); err != nil {
		return err
	}
	logger.Info().
		Bool("charges_enabled", caps.ChargesEnabled).
		Bool("payouts_enabled", caps.PayoutsEnabled).
		Bool("details_submitted", caps.DetailsSubmitted).
		Msg("connected account updated")

	wasReady := before.ChargesEnabled && before.PayoutsEnabled && before.DetailsSubmitted
	if wasReady != caps.Ready() {
		res := p.notifier.Trigger(ctx, notify.Trigger{
			Workflow: notify.WorkflowConnectAccountStatus,
			To:       notify.Subscriber{ID: before.ID, Email: before.Email, FirstName: before.FirstName},
			Payload: map[string]any{
				"accountId":        acct.ID,
				"chargesEnabled":   caps.ChargesEnabled,
				"payoutsEnabled":   caps.PayoutsEnabled,
				"detailsSubmitted": caps.DetailsSubmitted,
				"ready":            caps.Ready(),
			},
		})
		if !res.OK {
			logger.Warn().Err(res.Err).Msg("account status notification failed")
		}
	}
	return nil
}

func (p *Processor) HandleExternalAccount(ctx context.Context, accountID string, bank *stripe.BankAccount) error {
	if accountID == "" {
		return fmt.Errorf("external account %s: %w", bank.ID, ErrMissingConnectAccount)
	}
	err := p.users.UpdateBankAccount(ctx, accountID, domain.BankAccount{Last4: bank.Last4, BankName: bank.BankName})
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn().Str("account", accountID).Msg("bank account update for unknown connected account")
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info().Str("account", accountID).Str("last4", bank.Last4).Msg("bank account updated")
	return nil
}

// HandlePayout disables local payouts when the provider reports a failed payout.
func (p *Processor) HandlePayout(ctx context.Context, accountID string, po *stripe.Payout) error {
	logger := p.logger.With().Str("account", accountID).Str("payout_id", po.ID).Str("payout_status", string(po.Status)).Logger()

	if po.Status != stripe.PayoutStatusFailed {
		logger.Info().Int64("amount", po.Amount).Msg("payout paid")
		return nil
	}
	if accountID == "" {
		return fmt.Errorf("payout %s: %w", po.ID, ErrMissingConnectAccount)
	}

	if err := p.users.DisablePayouts(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn().Msg("payout failure for unknown connected account")
			return nil
		}
		return err
	}
	logger.Error().Str("failure_code", string(po.FailureCode)).Str("failure_message", po.FailureMessage).Msg("payout failed, payouts disabled")

	user, err := p.users.GetByConnectAccount(ctx, accountID)
	if err != nil {
		logger.Warn().Err(err).Msg("payout failure notification skipped")
		return nil
	}
	res := p.notifier.Trigger(ctx, notify.Trigger{
		Workflow: notify.WorkflowPayoutFailed,
		To:       notify.Subscriber{ID: user.ID, Email: user.Email, FirstName: user.FirstName},
		Payload: map[string]any{
			"payoutId":       po.ID,
			"amount":         fmt.Sprintf("%d.%02d", po.Amount/100, po.Amount%100),
			"currency":       string(po.Currency),
			"failureCode":    string(po.FailureCode),
			"failureMessage": po.FailureMessage,
		},
		TransactionID: "payout-failed-" + po.ID,
	})
	if !res.OK {
		logger.Warn().Err(res.Err).Msg("payout failure notification failed")
	}
	return nil
}
