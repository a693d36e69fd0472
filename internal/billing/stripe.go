package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// Stripe payloads arrive pre-verified (the controller runs
// webhook.ConstructEvent from stripe-go before normalization). The object
// under data.object is parsed into minimal tolerant structs here instead of
// the SDK's full types: the fields this service reads have moved between
// Stripe API versions, and absent fields must stay absent.

type stripeSubscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Customer          stripeCustomerRef `json:"customer"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd returns the subscription's period end, preferring the top-level
// field and falling back to the latest item-level one (newer API versions
// carry it per item).
func (s *stripeSubscription) periodEnd() int64 {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return end
}

type stripePaymentIntent struct {
	ID       string            `json:"id"`
	Customer stripeCustomerRef `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID            string            `json:"id"`
	Customer      stripeCustomerRef `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID             string            `json:"id"`
	Customer       stripeCustomerRef `json:"customer"`
	Metadata       map[string]string `json:"metadata"`
	BillingDetails struct {
		Email string `json:"email"`
	} `json:"billing_details"`
}

// stripeCustomerRef tolerates both the expanded object form and the plain id
// string Stripe uses depending on expansion.
type stripeCustomerRef struct {
	ID string
}

func (c *stripeCustomerRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		c.ID = id
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.ID = obj.ID
	return nil
}

// StripeNormalizer maps verified Stripe events to canonical events.
type StripeNormalizer struct {
	credits CreditConfig
}

func NewStripeNormalizer(credits CreditConfig) *StripeNormalizer {
	return &StripeNormalizer{credits: credits}
}

// Normalize converts a Stripe event into a canonical Event. Unhandled event
// types produce a KindUnknown event with no identity, which the engine
// acknowledges without effect.
func (n *StripeNormalizer) Normalize(ev *stripe.Event) (*Event, error) {
	out := &Event{
		Provider: ProviderStripe,
		EventID:  ev.ID,
		RawType:  string(ev.Type),
		Kind:     KindUnknown,
	}

	switch ev.Type {
	case "payment_intent.succeeded":
		var pi stripePaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, domain.Errorf(domain.EINVALID, "billing.stripe", "unparseable payment intent: %v", err)
		}
		out.Kind = KindConsumablePurchase
		out.Identity.Email = pi.Metadata["email"]
		out.Identity.StripeCustomerID = pi.Customer.ID
		out.ProductID = pi.Metadata["product"]
		out.CreditGrant = n.credits.CreditsFor(out.ProductID)

	case "customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.resumed", "customer.subscription.paused",
		"customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, domain.Errorf(domain.EINVALID, "billing.stripe", "unparseable subscription: %v", err)
		}
		out.Kind = stripeSubscriptionKind(ev.Type, &sub)
		out.Identity.Email = sub.Metadata["email"]
		out.Identity.StripeCustomerID = sub.Customer.ID
		out.SubscriptionID = sub.ID
		if end := sub.periodEnd(); end > 0 {
			t := time.Unix(end, 0).UTC()
			out.ExpiresAt = &t
		}
		if sub.Status != "" {
			active := sub.Status == "active" || sub.Status == "trialing"
			out.EntitlementActive = &active
		}

	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, domain.Errorf(domain.EINVALID, "billing.stripe", "unparseable invoice: %v", err)
		}
		out.Kind = KindBillingIssue
		out.Identity.Email = firstNonEmpty(inv.Metadata["email"], inv.CustomerEmail)
		out.Identity.StripeCustomerID = inv.Customer.ID

	case "charge.refunded":
		var ch stripeCharge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, domain.Errorf(domain.EINVALID, "billing.stripe", "unparseable charge: %v", err)
		}
		out.Kind = KindRefund
		out.Identity.Email = firstNonEmpty(ch.Metadata["email"], ch.BillingDetails.Email)
		out.Identity.StripeCustomerID = ch.Customer.ID
	}

	return out, nil
}

func stripeSubscriptionKind(eventType stripe.EventType, sub *stripeSubscription) EventKind {
	switch eventType {
	case "customer.subscription.created":
		return KindInitialPurchase
	case "customer.subscription.deleted":
		return KindExpiration
	case "customer.subscription.paused":
		return KindPaused
	case "customer.subscription.resumed":
		return KindUncancellation
	case "customer.subscription.updated":
		// Stripe reports cancel-at-period-end as an update; access
		// survives until the period actually ends.
		if sub.CancelAtPeriodEnd {
			return KindCancellation
		}
		return KindRenewal
	}
	return KindUnknown
}
