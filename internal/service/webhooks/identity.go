package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/retry"
	"github.com/stripe/stripe-go/v82"
)

func identityUserID(vs *stripe.IdentityVerificationSession) string {
	if vs.ClientReferenceID != "" {
		return vs.ClientReferenceID
	}
	for _, k := range []string{"user_id", "userId"} {
		if v := vs.Metadata[k]; v != "" {
			return v
		}
	}
	return ""
}

// HandleIdentityVerification stores the verification outcome and notifies the
// user once the write has committed.
func (p *Processor) HandleIdentityVerification(ctx context.Context, vs *stripe.IdentityVerificationSession) error {
	logger := p.logger.With().Str("verification_session", vs.ID).Str("status", string(vs.Status)).Logger()

	userID := identityUserID(vs)
	if userID == "" {
		logger.Error().Msg("verification session without user reference")
		return fmt.Errorf("verification session %s: %w", vs.ID, ErrMissingMetadata)
	}
	logger = logger.With().Str("user_id", userID).Logger()

	upd := domain.IdentityUpdate{
		UserID:         userID,
		VerificationID: vs.ID,
		Status:         domain.IdentityStatus(vs.Status),
		CheckedAt:      p.now().UTC(),
	}
	err := retry.Do(ctx, p.retryAttempts, p.retryBase, func(ctx context.Context) error {
		err := p.users.ApplyIdentityUpdate(ctx, upd)
		if errors.Is(err, repository.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		logger.Error().Err(err).Bool("needs_manual_intervention", true).Msg("identity verification update failed")
		return err
	}
	logger.Info().Msg("identity verification updated")

	var workflow, title string
	payload := map[string]any{"verificationId": vs.ID, "status": string(vs.Status)}
	switch upd.Status {
	case domain.IdentityStatusVerified:
		workflow, title = notify.WorkflowIdentityVerified, "Identity Verification Complete"
	case domain.IdentityStatusRequiresInput:
		workflow, title = notify.WorkflowIdentityNeedsInput, "Identity Verification Needs Attention"
		if vs.LastError != nil {
			payload["reason"] = vs.LastError.Reason
			payload["code"] = string(vs.LastError.Code)
		}
	default:
		return nil
	}
	payload["title"] = title

	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("identity notification skipped, user lookup failed")
		return nil
	}
	res := p.notifier.Trigger(ctx, notify.Trigger{
		Workflow:      workflow,
		To:            notify.Subscriber{ID: user.ID, Email: user.Email, FirstName: user.FirstName},
		Payload:       payload,
		TransactionID: fmt.Sprintf("identity-%s-%s", vs.ID, vs.Status),
	})
	if !res.OK {
		logger.Warn().Err(res.Err).Str("workflow", workflow).Msg("identity notification failed")
	}
	return nil
}
