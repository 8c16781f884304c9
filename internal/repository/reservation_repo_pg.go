package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
)

type ReservationRepository interface {
	DeleteExpired(ctx context.Context, now time.Time) ([]domain.SlotReservation, error)
	ListActive(ctx context.Context, now time.Time) ([]domain.SlotReservation, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	FindReminderCandidates(ctx context.Context, stage domain.ReminderStage, expiresFrom, expiresTo time.Time) ([]domain.SlotReservation, error)
	MarkReminderSent(ctx context.Context, id string, stage domain.ReminderStage, at time.Time) (bool, error)
}

type PGReservationRepository struct {
	db *pgxpool.Pool
}

func NewReservationRepository(db *pgxpool.Pool) ReservationRepository {
	return &PGReservationRepository{db: db}
}

const reservationColumns = `id, event_id, start_time, guest_email, timezone, created_at, expires_at,
	stripe_payment_intent_id, stripe_session_id, gentle_reminder_sent_at, urgent_reminder_sent_at`

func scanReservations(rows pgx.Rows) ([]domain.SlotReservation, error) {
	defer rows.Close()

	var out []domain.SlotReservation
	for rows.Next() {
		var r domain.SlotReservation
		if err := rows.Scan(&r.ID, &r.EventID, &r.StartTime, &r.GuestEmail, &r.Timezone, &r.CreatedAt, &r.ExpiresAt,
			&r.StripePaymentIntentID, &r.StripeSessionID, &r.GentleReminderSentAt, &r.UrgentReminderSentAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *PGReservationRepository) DeleteExpired(ctx context.Context, now time.Time) ([]domain.SlotReservation, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM slot_reservations WHERE expires_at < $1 RETURNING `+reservationColumns, now)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r *PGReservationRepository) ListActive(ctx context.Context, now time.Time) ([]domain.SlotReservation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reservationColumns+` FROM slot_reservations WHERE expires_at >= $1 ORDER BY event_id, start_time, created_at DESC`, now)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r *PGReservationRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM slot_reservations WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func reminderColumn(stage domain.ReminderStage) (string, error) {
	switch stage {
	case domain.ReminderStageGentle:
		return "gentle_reminder_sent_at", nil
	case domain.ReminderStageUrgent:
		return "urgent_reminder_sent_at", nil
	default:
		return "", fmt.Errorf("unknown reminder stage %q", stage)
	}
}

func (r *PGReservationRepository) FindReminderCandidates(ctx context.Context, stage domain.ReminderStage, expiresFrom, expiresTo time.Time) ([]domain.SlotReservation, error) {
	col, err := reminderColumn(stage)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+reservationColumns+` FROM slot_reservations
		WHERE expires_at >= $1 AND expires_at <= $2
		AND `+col+` IS NULL
		AND stripe_payment_intent_id IS NOT NULL AND stripe_payment_intent_id <> ''
		ORDER BY expires_at`, expiresFrom, expiresTo)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// MarkReminderSent sets the stage marker only if it is still empty.
func (r *PGReservationRepository) MarkReminderSent(ctx context.Context, id string, stage domain.ReminderStage, at time.Time) (bool, error) {
	col, err := reminderColumn(stage)
	if err != nil {
		return false, err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE slot_reservations SET `+col+` = $1 WHERE id = $2 AND `+col+` IS NULL`, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

var _ ReservationRepository = (*PGReservationRepository)(nil)
