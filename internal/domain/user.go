package domain

import "time"

// User is the subset of the account record this service reads and mirrors
// provider state onto.
type User struct {
	ID                         string
	Email                      string
	FirstName                  string
	Country                    string
	StripeConnectAccountID     *string
	ChargesEnabled             bool
	PayoutsEnabled             bool
	DetailsSubmitted           bool
	IdentityVerificationID     *string
	IdentityVerificationStatus *string
	IdentityVerified           bool
}

func (u User) ConnectAccount() (string, bool) {
	if u.StripeConnectAccountID == nil || *u.StripeConnectAccountID == "" {
		return "", false
	}
	return *u.StripeConnectAccountID, true
}

// ConnectCapabilities mirrors the provider's connected account flags.
type ConnectCapabilities struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

func (c ConnectCapabilities) Ready() bool {
	return c.ChargesEnabled && c.PayoutsEnabled && c.DetailsSubmitted
}

type IdentityStatus string

const (
	IdentityStatusVerified      IdentityStatus = "verified"
	IdentityStatusRequiresInput IdentityStatus = "requires_input"
	IdentityStatusProcessing    IdentityStatus = "processing"
	IdentityStatusCanceled      IdentityStatus = "canceled"
)

// IdentityUpdate is written in a single transaction by the identity webhook.
type IdentityUpdate struct {
	UserID         string
	VerificationID string
	Status         IdentityStatus
	CheckedAt      time.Time
}

// BankAccount is the expert's external payout destination as reported by the provider.
type BankAccount struct {
	Last4    string
	BankName string
}

// Event is a bookable offering owned by an expert.
type Event struct {
	ID              string
	UserID          string
	Title           string
	Slug            string
	DurationMinutes int
}

// Meeting is a confirmed booking created from a completed checkout.
type Meeting struct {
	EventID               string
	ExpertUserID          string
	GuestEmail            string
	GuestName             string
	Timezone              string
	StartTime             time.Time
	EndTime               time.Time
	GuestNotes            string
	Locale                string
	StripeSessionID       string
	StripePaymentIntentID string
	StripePaymentStatus   string
}
