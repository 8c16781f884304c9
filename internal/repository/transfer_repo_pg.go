package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
)

type TransferRepository interface {
	ListAwaitingPayout(ctx context.Context) ([]domain.PaymentTransfer, error)
	Create(ctx context.Context, t *domain.PaymentTransfer) (bool, error)
	MarkPayoutRequested(ctx context.Context, id int64, amount int64, at time.Time) error
	ClearPayoutRequest(ctx context.Context, id int64) error
	MarkPaidOut(ctx context.Context, id int64, payoutID string, at time.Time) error
	RecordPayoutFailure(ctx context.Context, id int64, code, message string, at time.Time) error
}

type PGTransferRepository struct {
	db *pgxpool.Pool
}

func NewTransferRepository(db *pgxpool.Pool) TransferRepository {
	return &PGTransferRepository{db: db}
}

const transferColumns = `id, payment_intent_id, checkout_session_id, event_id, expert_connect_account_id, expert_user_id,
	amount, platform_fee, currency, session_start_time, scheduled_transfer_time, status, transfer_id, payout_id,
	stripe_error_code, stripe_error_message, retry_count, requires_approval, admin_notes,
	payout_requested_amount, payout_requested_at, created, updated`

func scanTransfer(row pgx.Row) (domain.PaymentTransfer, error) {
	var t domain.PaymentTransfer
	var status string
	if err := row.Scan(&t.ID, &t.PaymentIntentID, &t.CheckoutSessionID, &t.EventID, &t.ExpertConnectAccountID, &t.ExpertUserID,
		&t.Amount, &t.PlatformFee, &t.Currency, &t.SessionStartTime, &t.ScheduledTransferTime, &status, &t.TransferID, &t.PayoutID,
		&t.StripeErrorCode, &t.StripeErrorMessage, &t.RetryCount, &t.RequiresApproval, &t.AdminNotes,
		&t.PayoutRequestedAmount, &t.PayoutRequestedAt, &t.Created, &t.Updated); err != nil {
		return t, err
	}
	st, err := domain.ParseTransferStatus(status)
	if err != nil {
		return t, err
	}
	t.Status = st
	return t, nil
}

func (r *PGTransferRepository) ListAwaitingPayout(ctx context.Context) ([]domain.PaymentTransfer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transferColumns+` FROM payment_transfers
		WHERE status = $1 AND payout_id IS NULL ORDER BY created`, domain.TransferStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts the row unless one already exists for the payment intent.
func (r *PGTransferRepository) Create(ctx context.Context, t *domain.PaymentTransfer) (bool, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO payment_transfers
		(payment_intent_id, checkout_session_id, event_id, expert_connect_account_id, expert_user_id,
		 amount, platform_fee, currency, session_start_time, scheduled_transfer_time, status, transfer_id,
		 retry_count, requires_approval, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, now(), now())
		ON CONFLICT (payment_intent_id) DO NOTHING
		RETURNING id, created, updated`,
		t.PaymentIntentID, t.CheckoutSessionID, t.EventID, t.ExpertConnectAccountID, t.ExpertUserID,
		t.Amount, t.PlatformFee, t.Currency, t.SessionStartTime, t.ScheduledTransferTime, t.Status, t.TransferID,
		t.RequiresApproval).Scan(&t.ID, &t.Created, &t.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkPayoutRequested stores the amount about to be requested so a later run
// can repeat the same request instead of issuing a new one.
func (r *PGTransferRepository) MarkPayoutRequested(ctx context.Context, id int64, amount int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE payment_transfers
		SET payout_requested_amount = $1, payout_requested_at = $2
		WHERE id = $3 AND status = $4 AND payout_id IS NULL`,
		amount, at, id, domain.TransferStatusCompleted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPayoutRequest drops the marker after the provider refused the request.
func (r *PGTransferRepository) ClearPayoutRequest(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE payment_transfers
		SET payout_requested_amount = NULL, payout_requested_at = NULL
		WHERE id = $1 AND payout_id IS NULL`, id)
	return err
}

// MarkPaidOut records the payout id exactly once.
func (r *PGTransferRepository) MarkPaidOut(ctx context.Context, id int64, payoutID string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE payment_transfers
		SET payout_id = $1, status = $2, updated = $3, stripe_error_code = NULL, stripe_error_message = NULL
		WHERE id = $4 AND status = $5 AND payout_id IS NULL`,
		payoutID, domain.TransferStatusPaidOut, at, id, domain.TransferStatusCompleted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPayoutFailure keeps the status and leaves updated untouched so the
// payout delay is not restarted.
func (r *PGTransferRepository) RecordPayoutFailure(ctx context.Context, id int64, code, message string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE payment_transfers
		SET stripe_error_code = $1, stripe_error_message = $2, retry_count = retry_count + 1,
		    admin_notes = concat_ws(E'\n', admin_notes, $3::text)
		WHERE id = $4`,
		code, message, at.UTC().Format(time.RFC3339)+" payout failed: "+message, id)
	return err
}

var _ TransferRepository = (*PGTransferRepository)(nil)
