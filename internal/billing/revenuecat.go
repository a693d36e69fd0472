package billing

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// RevenueCat delivers the same logical event in several shapes: fields at the
// top level, nested under "event", or nested under "data" with an optional
// "subscriber" snapshot. The normalizer parses every plausible location into
// typed envelopes and resolves each canonical field through an ordered list
// of strategies, so the fallback order stays auditable.

type rcEnvelope struct {
	Event      *rcEvent      `json:"event"`
	Data       *rcData       `json:"data"`
	Subscriber *rcSubscriber `json:"subscriber"`
	AppUserID  string        `json:"app_user_id"`
	ProductID  string        `json:"product_id"`
	RequestID  string        `json:"request_id"`
	DeliveryID string        `json:"delivery_id"`
}

// rcData may itself carry the subscriber fields directly instead of nesting
// them under "subscriber"; both shapes occur in the wild.
type rcData struct {
	ID            string                   `json:"id"`
	Event         *rcEvent                 `json:"event"`
	AppUserID     string                   `json:"app_user_id"`
	ProductID     string                   `json:"product_id"`
	Product       *rcProduct               `json:"product"`
	Subscriber    *rcSubscriber            `json:"subscriber"`
	Email         string                   `json:"email"`
	Subscriptions map[string]rcSub         `json:"subscriptions"`
	Entitlements  map[string]rcEntitlement `json:"entitlements"`
}

type rcProduct struct {
	ProductID string `json:"product_id"`
	ID        string `json:"id"`
}

type rcEvent struct {
	ID                    string   `json:"id"`
	EventID               string   `json:"event_id"`
	Type                  string   `json:"type"`
	AppUserID             string   `json:"app_user_id"`
	OriginalAppUserID     string   `json:"original_app_user_id"`
	ProductID             string   `json:"product_id"`
	EntitlementIDs        []string `json:"entitlement_ids"`
	ExpirationAtMs        *float64 `json:"expiration_at_ms"`
	TransactionID         string   `json:"transaction_id"`
	OriginalTransactionID string   `json:"original_transaction_id"`
}

type rcSubscriber struct {
	AppUserID         string                   `json:"app_user_id"`
	OriginalAppUserID string                   `json:"original_app_user_id"`
	Email             string                   `json:"email"`
	Subscriptions     map[string]rcSub         `json:"subscriptions"`
	Entitlements      map[string]rcEntitlement `json:"entitlements"`
}

type rcSub struct {
	ID                    string   `json:"id"`
	ProductID             string   `json:"product_id"`
	ExpiresDateMs         *float64 `json:"expires_date_ms"`
	ExpirationDateMs      *float64 `json:"expiration_date_ms"`
	OriginalTransactionID string   `json:"original_transaction_id"`
}

type rcEntitlement struct {
	IsActive bool `json:"is_active"`
}

// RevenueCatNormalizer maps RevenueCat webhook payloads to canonical events.
type RevenueCatNormalizer struct {
	credits CreditConfig
}

func NewRevenueCatNormalizer(credits CreditConfig) *RevenueCatNormalizer {
	return &RevenueCatNormalizer{credits: credits}
}

// Normalize parses a raw RevenueCat payload into a canonical Event. It
// returns an error only for unparseable JSON; missing fields degrade to an
// event with absent fields, never to defaults.
func (n *RevenueCatNormalizer) Normalize(payload []byte) (*Event, error) {
	var env rcEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.Errorf(domain.EINVALID, "billing.revenuecat", "unparseable payload: %v", err)
	}

	// The payload may itself be the event object.
	ev := env.Event
	if ev == nil && env.Data != nil {
		ev = env.Data.Event
	}
	if ev == nil {
		var top rcEvent
		if err := json.Unmarshal(payload, &top); err == nil {
			ev = &top
		} else {
			ev = &rcEvent{}
		}
	}

	sub := resolveSubscriber(&env)

	out := &Event{
		Provider: ProviderRevenueCat,
		RawType:  ev.Type,
		Kind:     revenueCatKind(ev.Type),
		EventID:  firstNonEmpty(ev.ID, ev.EventID, env.RequestID, env.DeliveryID, dataID(env.Data)),
	}

	// Identity: app-specific billing user id, then generic app-user-id
	// fields, then the subscriber email. Email is a deliberate last resort
	// for purchases completed before any app-user-id linkage exists.
	out.Identity.AppUserID = firstNonEmpty(
		ev.AppUserID,
		ev.OriginalAppUserID,
		env.AppUserID,
		dataAppUserID(env.Data),
		subscriberAppUserID(sub),
	)
	if sub != nil {
		out.Identity.Email = sub.Email
	}

	out.ProductID = firstNonEmpty(
		ev.ProductID,
		env.ProductID,
		dataProductID(env.Data),
	)
	out.CreditGrant = n.credits.CreditsFor(out.ProductID)

	// Subscription selection: latest expiry wins across the subscriber's
	// subscription entries; entries without an expiry are skipped here but
	// still feed the entitlement-active fallback below.
	if sub != nil {
		if picked, exp, ok := latestSubscription(sub.Subscriptions); ok {
			t := time.UnixMilli(int64(exp)).UTC()
			out.ExpiresAt = &t
			out.SubscriptionID = picked
		}
	}
	if out.ExpiresAt == nil && ev.ExpirationAtMs != nil {
		t := time.UnixMilli(int64(*ev.ExpirationAtMs)).UTC()
		out.ExpiresAt = &t
	}
	if out.SubscriptionID == "" {
		out.SubscriptionID = firstNonEmpty(ev.OriginalTransactionID, ev.TransactionID)
	}

	if active, known := n.entitlementActive(ev, sub); known {
		out.EntitlementActive = &active
	}

	return out, nil
}

// entitlementActive reports the provider's entitlement flag and whether the
// payload carried one at all.
func (n *RevenueCatNormalizer) entitlementActive(ev *rcEvent, sub *rcSubscriber) (active, known bool) {
	if sub != nil && sub.Entitlements != nil {
		if ent, ok := sub.Entitlements[n.credits.EntitlementID]; ok {
			return ent.IsActive, true
		}
	}
	if len(ev.EntitlementIDs) > 0 {
		for _, id := range ev.EntitlementIDs {
			if id == n.credits.EntitlementID {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

// resolveSubscriber picks the subscriber snapshot: nested under data, at the
// top level, or the data object itself when it carries the subscriber fields
// inline.
func resolveSubscriber(env *rcEnvelope) *rcSubscriber {
	if env.Data != nil && env.Data.Subscriber != nil {
		return env.Data.Subscriber
	}
	if env.Subscriber != nil {
		return env.Subscriber
	}
	if d := env.Data; d != nil &&
		(d.Email != "" || len(d.Subscriptions) > 0 || len(d.Entitlements) > 0) {
		return &rcSubscriber{
			AppUserID:     d.AppUserID,
			Email:         d.Email,
			Subscriptions: d.Subscriptions,
			Entitlements:  d.Entitlements,
		}
	}
	return nil
}

// latestSubscription returns the subscription id with the greatest expiry.
// Keys are visited in sorted order so ties resolve deterministically.
func latestSubscription(subs map[string]rcSub) (id string, expiresMs float64, ok bool) {
	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		s := subs[key]
		exp := s.ExpiresDateMs
		if exp == nil {
			exp = s.ExpirationDateMs
		}
		if exp == nil {
			continue
		}
		if !ok || *exp > expiresMs {
			expiresMs = *exp
			id = firstNonEmpty(s.OriginalTransactionID, s.ID, key)
			ok = true
		}
	}
	return id, expiresMs, ok
}

func revenueCatKind(rawType string) EventKind {
	switch strings.ToUpper(strings.TrimSpace(rawType)) {
	case "INITIAL_PURCHASE":
		return KindInitialPurchase
	case "RENEWAL", "SUBSCRIPTION_EXTENDED":
		return KindRenewal
	case "UNCANCELLATION":
		return KindUncancellation
	case "NON_RENEWING_PURCHASE":
		return KindNonRenewingPurchase
	case "TEMPORARY_ENTITLEMENT_GRANT":
		return KindTemporaryGrant
	case "CANCELLATION":
		return KindCancellation
	case "EXPIRATION":
		return KindExpiration
	case "SUBSCRIPTION_PAUSED":
		return KindPaused
	case "BILLING_ISSUE":
		return KindBillingIssue
	case "PRODUCT_CHANGE":
		return KindProductChange
	case "REFUND":
		return KindRefund
	case "REFUND_REVERSED":
		return KindRefundReversed
	default:
		// TRANSFER, INVOICE_ISSUANCE and any future types take the
		// fallback transition.
		return KindUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func dataID(d *rcData) string {
	if d == nil {
		return ""
	}
	return d.ID
}

func dataAppUserID(d *rcData) string {
	if d == nil {
		return ""
	}
	return d.AppUserID
}

func dataProductID(d *rcData) string {
	if d == nil {
		return ""
	}
	if d.ProductID != "" {
		return d.ProductID
	}
	if d.Product != nil {
		return firstNonEmpty(d.Product.ProductID, d.Product.ID)
	}
	return ""
}

func subscriberAppUserID(s *rcSubscriber) string {
	if s == nil {
		return ""
	}
	return firstNonEmpty(s.AppUserID, s.OriginalAppUserID)
}
