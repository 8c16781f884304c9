package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
)

type EventRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Event, error)
}

type MeetingRepository interface {
	CreateFromCheckout(ctx context.Context, m domain.Meeting) (bool, error)
	UpdatePaymentStatus(ctx context.Context, paymentIntentID, status string) (int64, error)
}

type PGEventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) EventRepository {
	return &PGEventRepository{db: db}
}

func (r *PGEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var e domain.Event
	err := r.db.QueryRow(ctx, `SELECT id, user_id, name, slug, duration_in_minutes FROM events WHERE id = $1`, id).
		Scan(&e.ID, &e.UserID, &e.Title, &e.Slug, &e.DurationMinutes)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

type PGMeetingRepository struct {
	db *pgxpool.Pool
}

func NewMeetingRepository(db *pgxpool.Pool) MeetingRepository {
	return &PGMeetingRepository{db: db}
}

// CreateFromCheckout inserts the meeting once per checkout session and drops
// the slot reservation the guest was holding.
func (r *PGMeetingRepository) CreateFromCheckout(ctx context.Context, m domain.Meeting) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `INSERT INTO meetings
		(event_id, clerk_user_id, guest_email, guest_name, timezone, start_time, end_time, guest_notes, locale,
		 stripe_session_id, stripe_payment_intent_id, stripe_payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (stripe_session_id) DO NOTHING`,
		m.EventID, m.ExpertUserID, m.GuestEmail, m.GuestName, m.Timezone, m.StartTime.UTC(), m.EndTime.UTC(),
		m.GuestNotes, m.Locale, m.StripeSessionID, m.StripePaymentIntentID, m.StripePaymentStatus)
	if err != nil {
		return false, err
	}
	created := cmd.RowsAffected() == 1

	if _, err := tx.Exec(ctx, `DELETE FROM slot_reservations
		WHERE stripe_session_id = $1
		   OR (event_id = $2 AND start_time = $3 AND lower(guest_email) = lower($4))`,
		m.StripeSessionID, m.EventID, m.StartTime.UTC(), m.GuestEmail); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return created, nil
}

func (r *PGMeetingRepository) UpdatePaymentStatus(ctx context.Context, paymentIntentID, status string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE meetings SET stripe_payment_status = $1, updated_at = now()
		WHERE stripe_payment_intent_id = $2`, status, paymentIntentID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

var (
	_ EventRepository   = (*PGEventRepository)(nil)
	_ MeetingRepository = (*PGMeetingRepository)(nil)
)
