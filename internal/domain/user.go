package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserLedger is the per-user persisted record of entitlement and credit state.
// It is created at signup and afterwards mutated only by the billing
// reconciliation path (and the listen-credit consumption path, which lives
// outside this service).
type UserLedger struct {
	ID    uuid.UUID
	Email string
	Name  string

	// External billing identifiers. Weak back-references used only for
	// lookup, never for ownership.
	BillingAppUserID           string // RevenueCat app_user_id
	StripeCustomerID           string
	AppleOriginalTransactionID string

	// Entitlement state.
	IsPremium        bool
	PremiumExpiresAt *time.Time
	IsPaused         bool
	IsCancelled      bool
	BillingIssue     bool

	// ListenCredits is the consumable balance. Mutated only by signed
	// increments, never overwritten.
	ListenCredits int32

	// ActiveSubscriptionID is the provider-side id of the subscription or
	// transaction currently granting entitlement. Comparing it against an
	// incoming event's subscription id is the re-delivery guard against
	// duplicate credit grants.
	ActiveSubscriptionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PremiumNow reports whether the ledger grants access at the given instant.
// Premium with a known-past expiry is never reported as active.
func (u *UserLedger) PremiumNow(now time.Time) bool {
	if !u.IsPremium {
		return false
	}
	if u.PremiumExpiresAt != nil && !u.PremiumExpiresAt.After(now) {
		return false
	}
	return true
}

// LedgerMutation is the set of field assignments and increments produced by
// the reconciliation engine for one billing event. The store applies it as a
// single atomic update; nil pointer fields are left untouched.
type LedgerMutation struct {
	SetPremium      *bool
	SetPaused       *bool
	SetCancelled    *bool
	SetBillingIssue *bool

	// SetExpiresAt moves premium_expires_at. Unless ForceExpiry is set the
	// store applies it monotonically: a stored later expiry is never
	// overwritten by an earlier one.
	SetExpiresAt *time.Time

	// ForceExpiry permits regressing or clearing the stored expiry. Only
	// revoking event kinds (refund, expiration, deletion) set it.
	ForceExpiry bool

	// ClearExpiresAt removes the stored expiry. Implies ForceExpiry.
	ClearExpiresAt bool

	SetActiveSubscriptionID *string

	// CreditDelta is added to listen_credits unconditionally. Consumable
	// purchases use it; their dedup lives at the event-id layer.
	CreditDelta int32

	// GuardedCredit is the recurring bonus, applied only if the stored
	// active_subscription_id differs from GuardSubID, checked in the same
	// statement that updates it (the re-delivery guard). A nil GuardSubID
	// grants unconditionally; that matches events that carry entitlement
	// but no subscription id.
	GuardedCredit int32
	GuardSubID    *string

	// LinkBillingAppUserID backfills the RevenueCat app-user-id linkage
	// when the ledger row does not have one yet.
	LinkBillingAppUserID *string
}

// IsEmpty reports whether the mutation would change nothing.
func (m LedgerMutation) IsEmpty() bool {
	return m.SetPremium == nil &&
		m.SetPaused == nil &&
		m.SetCancelled == nil &&
		m.SetBillingIssue == nil &&
		m.SetExpiresAt == nil &&
		!m.ClearExpiresAt &&
		m.SetActiveSubscriptionID == nil &&
		m.CreditDelta == 0 &&
		m.GuardedCredit == 0 &&
		m.LinkBillingAppUserID == nil
}

// UserIdentity carries the identifiers a billing event may resolve a user by.
// Fields are tried in order: app user id, Apple original transaction id,
// Stripe customer id, then email.
type UserIdentity struct {
	AppUserID          string
	AppleTransactionID string
	StripeCustomerID   string
	Email              string
}

// IsZero reports whether no identifier is present.
func (id UserIdentity) IsZero() bool {
	return id.AppUserID == "" && id.AppleTransactionID == "" &&
		id.StripeCustomerID == "" && id.Email == ""
}

// CreateUserParams contains the fields accepted at signup.
type CreateUserParams struct {
	Email          string
	Name           string
	StarterCredits int32
}

// LedgerStore persists user ledger rows.
type LedgerStore interface {
	// FindUserByIdentity resolves a user by any of the supplied
	// identifiers, trying app user id, Stripe customer id, then email.
	// Returns nil, nil when no user matches; an unresolved user is an
	// expected occurrence for webhook traffic, not an error.
	FindUserByIdentity(ctx context.Context, identity UserIdentity) (*UserLedger, error)

	// ApplyLedgerMutation applies the mutation to the user's row as one
	// atomic update.
	ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, m LedgerMutation) error

	// CreateUser inserts a new ledger row with free entitlement state.
	CreateUser(ctx context.Context, params CreateUserParams) (*UserLedger, error)

	// GetUserByEmail fetches a row by email. Returns a not-found domain
	// error when absent.
	GetUserByEmail(ctx context.Context, email string) (*UserLedger, error)
}

// EventStore is the idempotency gate for processed billing events.
type EventStore interface {
	// HasProcessed reports whether the event id has already been applied.
	HasProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event id. Returns false when another
	// delivery already recorded it; the insert is unique-constrained so
	// concurrent deliveries of one id race safely.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// NotificationStore archives raw provider notifications for diagnostics.
type NotificationStore interface {
	ArchiveAppStoreNotification(ctx context.Context, payload []byte) error
}
