package billing

import (
	"time"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// Engine computes ledger mutations from canonical billing events. Reconcile
// is a pure function of (current row, event); the side effects, from the
// atomic apply to idempotency marking and analytics, live with the callers.
type Engine struct {
	credits CreditConfig
	now     func() time.Time
}

func NewEngine(credits CreditConfig) *Engine {
	return &Engine{credits: credits, now: time.Now}
}

// transition mutates m according to one event kind. Transitions are kept in
// an explicit table so the fallback path is a first-class, tested case.
type transition func(e *Engine, row *domain.UserLedger, ev *Event, m *domain.LedgerMutation)

var transitions = map[EventKind]transition{
	KindInitialPurchase:     (*Engine).grantEntitlement,
	KindRenewal:             (*Engine).grantEntitlement,
	KindUncancellation:      (*Engine).grantEntitlement,
	KindNonRenewingPurchase: (*Engine).grantEntitlement,
	KindTemporaryGrant:      (*Engine).grantEntitlement,
	KindConsumablePurchase:  (*Engine).consumableOnly,
	KindCancellation:        (*Engine).cancel,
	KindExpiration:          (*Engine).expire,
	KindPaused:              (*Engine).pause,
	KindBillingIssue:        (*Engine).billingIssue,
	KindProductChange:       (*Engine).productChange,
	KindRefund:              (*Engine).refund,
	KindRefundReversed:      (*Engine).refundReversed,
	KindUnknown:             (*Engine).fallback,
}

// Reconcile computes the mutation a billing event implies for the given
// ledger row. It never fails: unrecognized shapes degrade to an empty
// mutation the caller acknowledges without effect.
func (e *Engine) Reconcile(row *domain.UserLedger, ev *Event) domain.LedgerMutation {
	var m domain.LedgerMutation

	// Consumable grants are an independent rule: a mixed payload carrying
	// both a mapped consumable product and a subscription change fires
	// both. Dedup for consumables is the event-id idempotency layer.
	if ev.CreditGrant > 0 {
		m.CreditDelta = ev.CreditGrant
	}

	// Backfill the RevenueCat app-user-id linkage the first time a billing
	// event resolves this user.
	if ev.Provider == ProviderRevenueCat && ev.Identity.AppUserID != "" && row.BillingAppUserID == "" {
		appUserID := ev.Identity.AppUserID
		m.LinkBillingAppUserID = &appUserID
	}

	fn, ok := transitions[ev.Kind]
	if !ok {
		fn = (*Engine).fallback
	}
	fn(e, row, ev, &m)

	return m
}

// grantEntitlement covers initial purchase, renewal, uncancellation,
// non-renewing purchase and temporary grants: premium on, pause off, expiry
// moved forward, and the recurring credit bonus under the re-delivery guard.
func (e *Engine) grantEntitlement(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetPremium = boolPtr(true)
	m.SetPaused = boolPtr(false)
	m.SetBillingIssue = boolPtr(false)
	if ev.Kind == KindUncancellation {
		m.SetCancelled = boolPtr(false)
	}

	if ev.ExpiresAt != nil {
		// Applied monotonically by the store: an out-of-order earlier
		// expiry never regresses the row.
		m.SetExpiresAt = ev.ExpiresAt
	}

	m.GuardedCredit = e.credits.SubscriptionBonus
	if ev.SubscriptionID != "" {
		subID := ev.SubscriptionID
		m.GuardSubID = &subID
		m.SetActiveSubscriptionID = &subID
	}
}

func (e *Engine) consumableOnly(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	// Credits were added by the independent rule in Reconcile; the
	// entitlement state is untouched.
}

// cancel records the user's intent. Access is not revoked here: the provider
// keeps entitlement alive until the paid period ends and sends a separate
// expiration event.
func (e *Engine) cancel(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetCancelled = boolPtr(true)
}

func (e *Engine) expire(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetPremium = boolPtr(false)
	m.SetPaused = boolPtr(false)
}

func (e *Engine) pause(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetPaused = boolPtr(true)
	m.SetPremium = boolPtr(false)
}

// billingIssue flags the problem but leaves access governed by expiry: a
// billing issue inside a paid period is a grace period, not a revocation.
func (e *Engine) billingIssue(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetBillingIssue = boolPtr(true)
	premium := e.premiumByExpiry(row, ev)
	m.SetPremium = &premium
}

func (e *Engine) productChange(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	if ev.SubscriptionID != "" {
		subID := ev.SubscriptionID
		m.SetActiveSubscriptionID = &subID
	}
}

func (e *Engine) refund(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetPremium = boolPtr(false)
	m.ClearExpiresAt = true
	m.ForceExpiry = true
}

func (e *Engine) refundReversed(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	m.SetPremium = boolPtr(true)
}

// fallback handles unrecognized kinds: recompute premium from the event's
// expiry or entitlement flag, with the same guarded bonus as a grant. An
// event carrying neither is no evidence either way and changes nothing.
func (e *Engine) fallback(row *domain.UserLedger, ev *Event, m *domain.LedgerMutation) {
	if ev.ExpiresAt == nil && ev.EntitlementActive == nil {
		return
	}

	if e.eventEntitles(ev) {
		e.grantEntitlement(row, ev, m)
		m.SetCancelled = nil
		return
	}
	m.SetPremium = boolPtr(false)
}

// eventEntitles reports whether the event's own evidence grants access now:
// a still-valid expiry, or an active entitlement flag when no expiry exists.
func (e *Engine) eventEntitles(ev *Event) bool {
	if ev.ExpiresAt != nil {
		return ev.ExpiresAt.After(e.now())
	}
	return ev.EntitlementActive != nil && *ev.EntitlementActive
}

// premiumByExpiry derives the premium flag from the freshest expiry known,
// preferring the event's over the stored one.
func (e *Engine) premiumByExpiry(row *domain.UserLedger, ev *Event) bool {
	exp := row.PremiumExpiresAt
	if ev.ExpiresAt != nil && (exp == nil || ev.ExpiresAt.After(*exp)) {
		exp = ev.ExpiresAt
	}
	if exp != nil {
		return exp.After(e.now())
	}
	return row.IsPremium
}

func boolPtr(b bool) *bool {
	return &b
}
