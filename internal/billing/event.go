// Package billing normalizes provider webhook payloads into canonical events
// and reconciles them against the user ledger.
package billing

import (
	"time"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// Provider identifies the billing provider an event originated from.
type Provider string

const (
	ProviderStripe     Provider = "stripe"
	ProviderRevenueCat Provider = "revenuecat"
	ProviderAppStore   Provider = "appstore"
)

// EventKind is the closed set of billing event kinds the reconciliation
// engine dispatches on. Provider-specific type strings are mapped here by the
// normalizers; anything unmapped becomes KindUnknown and flows through the
// fallback transition, never an error.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindInitialPurchase
	KindRenewal
	KindUncancellation
	KindNonRenewingPurchase
	KindTemporaryGrant
	KindConsumablePurchase
	KindCancellation
	KindExpiration
	KindPaused
	KindBillingIssue
	KindProductChange
	KindRefund
	KindRefundReversed
)

var kindNames = map[EventKind]string{
	KindUnknown:             "unknown",
	KindInitialPurchase:     "initial_purchase",
	KindRenewal:             "renewal",
	KindUncancellation:      "uncancellation",
	KindNonRenewingPurchase: "non_renewing_purchase",
	KindTemporaryGrant:      "temporary_grant",
	KindConsumablePurchase:  "consumable_purchase",
	KindCancellation:        "cancellation",
	KindExpiration:          "expiration",
	KindPaused:              "paused",
	KindBillingIssue:        "billing_issue",
	KindProductChange:       "product_change",
	KindRefund:              "refund",
	KindRefundReversed:      "refund_reversed",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is the canonical, in-memory billing event produced by a normalizer.
// Fields that could not be resolved from the payload are left zero rather
// than defaulted to a misleading value.
type Event struct {
	Provider Provider
	EventID  string // empty when the provider omitted one
	Kind     EventKind
	RawType  string // provider's own type string, for logs and analytics

	Identity domain.UserIdentity

	ProductID string

	// ExpiresAt is the entitlement expiry carried by the event, when any.
	ExpiresAt *time.Time

	// EntitlementActive is set when the payload carried an explicit
	// entitlement-active flag; nil means the payload said nothing.
	EntitlementActive *bool

	// SubscriptionID is the provider-side subscription or original
	// transaction id, input to the re-delivery guard.
	SubscriptionID string

	// CreditGrant is the consumable credit amount mapped from ProductID,
	// zero for non-consumable events.
	CreditGrant int32
}
