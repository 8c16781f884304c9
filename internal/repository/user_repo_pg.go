package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByConnectAccount(ctx context.Context, accountID string) (*domain.User, error)
	UpdateConnectCapabilities(ctx context.Context, caps domain.ConnectCapabilities) error
	UpdateBankAccount(ctx context.Context, accountID string, bank domain.BankAccount) error
	DisablePayouts(ctx context.Context, accountID string) error
	ApplyIdentityUpdate(ctx context.Context, upd domain.IdentityUpdate) error
}

type PGUserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &PGUserRepository{db: db}
}

const userColumns = `id, email, coalesce(first_name, ''), coalesce(country, ''), stripe_connect_account_id,
	stripe_connect_charges_enabled, stripe_connect_payouts_enabled, stripe_connect_details_submitted,
	stripe_identity_verification_id, stripe_identity_verification_status, stripe_identity_verified`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.Country, &u.StripeConnectAccountID,
		&u.ChargesEnabled, &u.PayoutsEnabled, &u.DetailsSubmitted,
		&u.IdentityVerificationID, &u.IdentityVerificationStatus, &u.IdentityVerified); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *PGUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *PGUserRepository) GetByConnectAccount(ctx context.Context, accountID string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_connect_account_id = $1`, accountID))
}

// UpdateConnectCapabilities mirrors the account flags and marks the payment
// setup step once the account can both charge and pay out.
func (r *PGUserRepository) UpdateConnectCapabilities(ctx context.Context, caps domain.ConnectCapabilities) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, `UPDATE users
		SET stripe_connect_charges_enabled = $1, stripe_connect_payouts_enabled = $2,
		    stripe_connect_details_submitted = $3, updated_at = now()
		WHERE stripe_connect_account_id = $4
		RETURNING id`, caps.ChargesEnabled, caps.PayoutsEnabled, caps.DetailsSubmitted, caps.AccountID).Scan(&userID)
	if err != nil {
		return notFound(err)
	}

	if caps.Ready() {
		if _, err := tx.Exec(ctx, `INSERT INTO expert_setup (user_id, payment, updated_at)
			VALUES ($1, true, now())
			ON CONFLICT (user_id) DO UPDATE SET payment = true, updated_at = now()`, userID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PGUserRepository) UpdateBankAccount(ctx context.Context, accountID string, bank domain.BankAccount) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users
		SET stripe_bank_account_last4 = $1, stripe_bank_name = $2, updated_at = now()
		WHERE stripe_connect_account_id = $3`, bank.Last4, bank.BankName, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGUserRepository) DisablePayouts(ctx context.Context, accountID string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users
		SET stripe_connect_payouts_enabled = false, stripe_bank_account_last4 = NULL, stripe_bank_name = NULL, updated_at = now()
		WHERE stripe_connect_account_id = $1`, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyIdentityUpdate writes the verification result and, when verified, the
// identity setup step. Both writes commit together or not at all.
func (r *PGUserRepository) ApplyIdentityUpdate(ctx context.Context, upd domain.IdentityUpdate) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	verified := upd.Status == domain.IdentityStatusVerified
	cmd, err := tx.Exec(ctx, `UPDATE users
		SET stripe_identity_verification_id = $1, stripe_identity_verification_status = $2,
		    stripe_identity_verified = $3, stripe_identity_verification_last_checked = $4, updated_at = now()
		WHERE id = $5`, upd.VerificationID, string(upd.Status), verified, upd.CheckedAt.UTC(), upd.UserID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}

	if verified {
		if _, err := tx.Exec(ctx, `INSERT INTO expert_setup (user_id, identity, updated_at)
			VALUES ($1, true, $2)
			ON CONFLICT (user_id) DO UPDATE SET identity = true, updated_at = $2`, upd.UserID, time.Now().UTC()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

var _ UserRepository = (*PGUserRepository)(nil)
