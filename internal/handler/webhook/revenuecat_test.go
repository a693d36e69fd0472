package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicstories/mosaic/internal/billing"
)

func newRevenueCatTestHandler(ledger *memLedger, events *memEvents, secret, authHeader string) *RevenueCatHandler {
	return NewRevenueCatHandler(
		billing.NewRevenueCatNormalizer(billing.DefaultCreditConfig()),
		billing.NewVerifier(secret),
		testProcessor(ledger, events),
		authHeader,
	)
}

func TestRevenueCatHandler_HappyPath(t *testing.T) {
	user := premiumUser("rc_user_1", "")
	ledger := newMemLedger(user)
	events := newMemEvents()
	h := newRevenueCatTestHandler(ledger, events, "secret", "")

	payload := []byte(`{
		"event": {
			"id": "evt_1",
			"type": "INITIAL_PURCHASE",
			"app_user_id": "rc_user_1",
			"original_transaction_id": "txn_1"
		}
	}`)
	sig := billing.NewVerifier("secret").Sign(payload)

	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook", bytes.NewReader(payload))
	req.Header.Set("X-RevenueCat-Signature", sig)
	rr := httptest.NewRecorder()

	h.HandleWebhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, user.IsPremium)
	assert.True(t, events.seen["evt_1"])
}

func TestRevenueCatHandler_RejectsBadSignature(t *testing.T) {
	ledger := newMemLedger()
	h := newRevenueCatTestHandler(ledger, newMemEvents(), "secret", "")

	payload := []byte(`{"event": {"type": "INITIAL_PURCHASE", "app_user_id": "u"}}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook", bytes.NewReader(payload))
	req.Header.Set("X-RevenueCat-Signature", "deadbeef")
	rr := httptest.NewRecorder()

	h.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, ledger.applyLog)
}

func TestRevenueCatHandler_RejectsMissingSignature(t *testing.T) {
	h := newRevenueCatTestHandler(newMemLedger(), newMemEvents(), "secret", "")

	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook",
		bytes.NewReader([]byte(`{"event": {"type": "RENEWAL"}}`)))
	rr := httptest.NewRecorder()

	h.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRevenueCatHandler_AuthorizationHeader(t *testing.T) {
	user := premiumUser("rc_user_1", "")
	ledger := newMemLedger(user)
	h := newRevenueCatTestHandler(ledger, newMemEvents(), "", "Bearer rc-auth-token")

	payload := []byte(`{"event": {"id": "evt_a", "type": "RENEWAL", "app_user_id": "rc_user_1"}}`)

	// Wrong header value is rejected before the body is read.
	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	h.HandleWebhook(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Correct value passes.
	req = httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer rc-auth-token")
	rr = httptest.NewRecorder()
	h.HandleWebhook(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRevenueCatHandler_RejectsUnparseableBody(t *testing.T) {
	h := newRevenueCatTestHandler(newMemLedger(), newMemEvents(), "", "")

	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook",
		bytes.NewReader([]byte(`this is not json`)))
	rr := httptest.NewRecorder()

	h.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRevenueCatHandler_UnresolvedUserStillAcknowledged(t *testing.T) {
	h := newRevenueCatTestHandler(newMemLedger(), newMemEvents(), "", "")

	payload := []byte(`{"event": {"id": "evt_g", "type": "INITIAL_PURCHASE", "app_user_id": "ghost"}}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook", bytes.NewReader(payload))
	rr := httptest.NewRecorder()

	h.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "no matched user is a no-op, not an error")
}

func TestRevenueCatHandler_StoreFailureReturns500(t *testing.T) {
	user := premiumUser("rc_user_1", "")
	ledger := newMemLedger(user)
	ledger.applyErr = assert.AnError
	h := newRevenueCatTestHandler(ledger, newMemEvents(), "", "")

	payload := []byte(`{"event": {"id": "evt_f", "type": "INITIAL_PURCHASE", "app_user_id": "rc_user_1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/revenuecat/webhook", bytes.NewReader(payload))
	rr := httptest.NewRecorder()

	h.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code, "5xx makes the provider retry")
}
