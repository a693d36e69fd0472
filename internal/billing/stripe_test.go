package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func stripeEvent(id string, eventType stripe.EventType, raw string) *stripe.Event {
	return &stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestStripeNormalize_PaymentIntentSucceeded(t *testing.T) {
	n := NewStripeNormalizer(DefaultCreditConfig())

	ev, err := n.Normalize(stripeEvent("evt_1", "payment_intent.succeeded", `{
		"id": "pi_1",
		"customer": "cus_1",
		"metadata": {"email": "buyer@example.com", "product": "credits10"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, KindConsumablePurchase, ev.Kind)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, "buyer@example.com", ev.Identity.Email)
	assert.Equal(t, "cus_1", ev.Identity.StripeCustomerID)
	assert.Equal(t, int32(10), ev.CreditGrant)
}

func TestStripeNormalize_PaymentIntentUnmappedProduct(t *testing.T) {
	n := NewStripeNormalizer(DefaultCreditConfig())

	ev, err := n.Normalize(stripeEvent("evt_2", "payment_intent.succeeded", `{
		"id": "pi_2",
		"metadata": {"email": "buyer@example.com", "product": "tshirt"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, KindConsumablePurchase, ev.Kind)
	assert.Zero(t, ev.CreditGrant, "unmapped products grant nothing")
}

func TestStripeNormalize_SubscriptionLifecycle(t *testing.T) {
	tests := []struct {
		eventType string
		raw       string
		want      EventKind
	}{
		{"customer.subscription.created", `{"id": "sub_1", "status": "active"}`, KindInitialPurchase},
		{"customer.subscription.updated", `{"id": "sub_1", "status": "active"}`, KindRenewal},
		{"customer.subscription.updated", `{"id": "sub_1", "status": "active", "cancel_at_period_end": true}`, KindCancellation},
		{"customer.subscription.paused", `{"id": "sub_1", "status": "paused"}`, KindPaused},
		{"customer.subscription.resumed", `{"id": "sub_1", "status": "active"}`, KindUncancellation},
		{"customer.subscription.deleted", `{"id": "sub_1", "status": "canceled"}`, KindExpiration},
	}

	n := NewStripeNormalizer(DefaultCreditConfig())
	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.want.String(), func(t *testing.T) {
			ev, err := n.Normalize(stripeEvent("evt_s", stripe.EventType(tt.eventType), tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
			assert.Equal(t, "sub_1", ev.SubscriptionID)
		})
	}
}

func TestStripeNormalize_PeriodEndFallsBackToItems(t *testing.T) {
	n := NewStripeNormalizer(DefaultCreditConfig())

	// Newer Stripe API versions carry current_period_end per item only.
	ev, err := n.Normalize(stripeEvent("evt_3", "customer.subscription.updated", `{
		"id": "sub_2",
		"status": "active",
		"customer": {"id": "cus_2"},
		"items": {"data": [
			{"current_period_end": 1800000000},
			{"current_period_end": 1810000000}
		]}
	}`))
	require.NoError(t, err)

	require.NotNil(t, ev.ExpiresAt)
	assert.Equal(t, time.Unix(1810000000, 0).UTC(), *ev.ExpiresAt)
	assert.Equal(t, "cus_2", ev.Identity.StripeCustomerID, "expanded customer object form")
	require.NotNil(t, ev.EntitlementActive)
	assert.True(t, *ev.EntitlementActive)
}

func TestStripeNormalize_InvoicePaymentFailed(t *testing.T) {
	n := NewStripeNormalizer(DefaultCreditConfig())

	ev, err := n.Normalize(stripeEvent("evt_4", "invoice.payment_failed", `{
		"id": "in_1",
		"customer": "cus_3",
		"customer_email": "late@example.com"
	}`))
	require.NoError(t, err)

	assert.Equal(t, KindBillingIssue, ev.Kind)
	assert.Equal(t, "late@example.com", ev.Identity.Email)
	assert.Equal(t, "cus_3", ev.Identity.StripeCustomerID)
}

func TestStripeNormalize_ChargeRefunded(t *testing.T) {
	n := NewStripeNormalizer(DefaultCreditConfig())

	ev, err := n.Normalize(stripeEvent("evt_5", "charge.refunded", `{
		"id": "ch_1",
		"billing_details": {"email": "refunded@example.com"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, KindRefund, ev.Kind)
	assert.Equal(t, "refunded@example.com", ev.Identity.Email)
}

func TestStripeNormalize_UnhandledTypeIsNoIdentityUnknown(t *testing.T) {
	n := NewStripeNormalizer(DefaultCreditConfig())

	ev, err := n.Normalize(stripeEvent("evt_6", "invoice.created", `{"id": "in_2"}`))
	require.NoError(t, err)

	assert.Equal(t, KindUnknown, ev.Kind)
	assert.True(t, ev.Identity.IsZero())
}
