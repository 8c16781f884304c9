package domain

import (
	"strings"
	"time"
)

// SlotReservation is a temporary hold on an expert's time slot while the guest's
// payment is still outstanding.
type SlotReservation struct {
	ID                    string
	EventID               string
	StartTime             time.Time
	GuestEmail            string
	Timezone              string
	CreatedAt             time.Time
	ExpiresAt             time.Time
	StripePaymentIntentID *string
	StripeSessionID       *string
	GentleReminderSentAt  *time.Time
	UrgentReminderSentAt  *time.Time
}

// SlotKey identifies the (event, start, guest) tuple that should own at most one
// active reservation.
type SlotKey struct {
	EventID    string
	StartTime  time.Time
	GuestEmail string
}

func (r SlotReservation) Key() SlotKey {
	return SlotKey{
		EventID:    r.EventID,
		StartTime:  r.StartTime.UTC(),
		GuestEmail: strings.ToLower(strings.TrimSpace(r.GuestEmail)),
	}
}

func (r SlotReservation) HasPaymentIntent() bool {
	return r.StripePaymentIntentID != nil && *r.StripePaymentIntentID != ""
}

// ReminderStage names a payment reminder stage. Each stage owns its own
// "sent at" column on slot_reservations.
type ReminderStage string

const (
	ReminderStageGentle ReminderStage = "gentle"
	ReminderStageUrgent ReminderStage = "urgent"
)

func (s ReminderStage) Valid() bool {
	switch s {
	case ReminderStageGentle, ReminderStageUrgent:
		return true
	default:
		return false
	}
}

// SentAt returns the stage marker of r.
func (s ReminderStage) SentAt(r SlotReservation) *time.Time {
	switch s {
	case ReminderStageGentle:
		return r.GentleReminderSentAt
	case ReminderStageUrgent:
		return r.UrgentReminderSentAt
	default:
		return nil
	}
}
