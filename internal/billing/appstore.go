package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// App Store Server Notifications are archived raw for diagnostics and only
// opportunistically normalized: production payloads wrap the transaction in
// signed JWS blobs this service does not decode, but sandbox tooling and
// older notification formats deliver the useful fields as plain JSON. No
// strict schema is enforced.

type appStoreNotification struct {
	NotificationType string `json:"notificationType"`
	Type             string `json:"type"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		AppAccountToken       string   `json:"appAccountToken"`
		OriginalTransactionID string   `json:"originalTransactionId"`
		ProductID             string   `json:"productId"`
		ExpiresDateMs         *float64 `json:"expiresDate"`
	} `json:"data"`
	// Older formats carry these at the top level.
	AppAccountToken       string `json:"appAccountToken"`
	OriginalTransactionID string `json:"originalTransactionId"`
}

// AppStoreNormalizer maps App Store server notifications to canonical events.
type AppStoreNormalizer struct {
	credits CreditConfig
}

func NewAppStoreNormalizer(credits CreditConfig) *AppStoreNormalizer {
	return &AppStoreNormalizer{credits: credits}
}

// Normalize best-effort parses an App Store notification. Payloads whose
// useful fields are sealed inside signed blobs yield an event with no
// identity, which is acknowledged without effect.
func (n *AppStoreNormalizer) Normalize(payload []byte) (*Event, error) {
	var note appStoreNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, domain.Errorf(domain.EINVALID, "billing.appstore", "unparseable payload: %v", err)
	}

	rawType := firstNonEmpty(note.NotificationType, note.Type)
	out := &Event{
		Provider: ProviderAppStore,
		EventID:  note.NotificationUUID,
		RawType:  rawType,
		Kind:     appStoreKind(rawType, note.Subtype),
	}

	out.Identity.AppUserID = firstNonEmpty(note.Data.AppAccountToken, note.AppAccountToken)
	out.SubscriptionID = firstNonEmpty(note.Data.OriginalTransactionID, note.OriginalTransactionID)
	out.Identity.AppleTransactionID = out.SubscriptionID
	out.ProductID = note.Data.ProductID
	out.CreditGrant = n.credits.CreditsFor(out.ProductID)

	if note.Data.ExpiresDateMs != nil {
		t := time.UnixMilli(int64(*note.Data.ExpiresDateMs)).UTC()
		out.ExpiresAt = &t
	}

	return out, nil
}

func appStoreKind(rawType, subtype string) EventKind {
	switch strings.ToUpper(strings.TrimSpace(rawType)) {
	case "SUBSCRIBED":
		if strings.EqualFold(subtype, "RESUBSCRIBE") {
			return KindUncancellation
		}
		return KindInitialPurchase
	case "DID_RENEW":
		return KindRenewal
	case "DID_CHANGE_RENEWAL_STATUS":
		if strings.EqualFold(subtype, "AUTO_RENEW_DISABLED") {
			return KindCancellation
		}
		return KindUncancellation
	case "EXPIRED":
		return KindExpiration
	case "DID_FAIL_TO_RENEW":
		return KindBillingIssue
	case "REFUND":
		return KindRefund
	case "REFUND_REVERSED":
		return KindRefundReversed
	case "ONE_TIME_CHARGE":
		return KindConsumablePurchase
	default:
		return KindUnknown
	}
}
