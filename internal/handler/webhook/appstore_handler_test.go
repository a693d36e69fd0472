package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicstories/mosaic/internal/billing"
)

// memArchive records archived notification payloads.
type memArchive struct {
	payloads [][]byte
	err      error
}

func (m *memArchive) ArchiveAppStoreNotification(ctx context.Context, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

func newAppStoreTestHandler(ledger *memLedger, events *memEvents, archive *memArchive, secret string) *AppStoreHandler {
	return NewAppStoreHandler(
		billing.NewAppStoreNormalizer(billing.DefaultCreditConfig()),
		billing.NewVerifier(secret),
		testProcessor(ledger, events),
		archive,
	)
}

func TestAppStoreHandler_ArchivesAndApplies(t *testing.T) {
	user := premiumUser("token-1", "")
	ledger := newMemLedger(user)
	events := newMemEvents()
	archive := &memArchive{}
	h := newAppStoreTestHandler(ledger, events, archive, "")

	payload := []byte(`{
		"notificationType": "SUBSCRIBED",
		"notificationUUID": "uuid-1",
		"data": {
			"appAccountToken": "token-1",
			"originalTransactionId": "1000000123",
			"expiresDate": 1800000000000
		}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/appstore/notifications", bytes.NewReader(payload))
	rr := httptest.NewRecorder()

	h.HandleNotification(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, archive.payloads, 1)
	assert.Equal(t, payload, archive.payloads[0])
	assert.True(t, user.IsPremium)
	assert.Equal(t, int32(30), user.ListenCredits)
}

func TestAppStoreHandler_SealedPayloadArchivedAndAcknowledged(t *testing.T) {
	ledger := newMemLedger()
	archive := &memArchive{}
	h := newAppStoreTestHandler(ledger, newMemEvents(), archive, "")

	payload := []byte(`{"signedPayload": "eyJhbGciOi..."}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/appstore/notifications", bytes.NewReader(payload))
	rr := httptest.NewRecorder()

	h.HandleNotification(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, archive.payloads, 1, "undecodable payloads are still archived")
	assert.Empty(t, ledger.applyLog)
}

func TestAppStoreHandler_ArchiveFailureDoesNotBlock(t *testing.T) {
	user := premiumUser("token-1", "")
	ledger := newMemLedger(user)
	archive := &memArchive{err: assert.AnError}
	h := newAppStoreTestHandler(ledger, newMemEvents(), archive, "")

	payload := []byte(`{
		"notificationType": "DID_RENEW",
		"notificationUUID": "uuid-2",
		"data": {"appAccountToken": "token-1", "originalTransactionId": "1000000123"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/appstore/notifications", bytes.NewReader(payload))
	rr := httptest.NewRecorder()

	h.HandleNotification(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, user.IsPremium, "the ledger write proceeds even when archiving fails")
}

func TestAppStoreHandler_RejectsBadSignature(t *testing.T) {
	archive := &memArchive{}
	h := newAppStoreTestHandler(newMemLedger(), newMemEvents(), archive, "apple-secret")

	payload := []byte(`{"notificationType": "DID_RENEW"}`)
	req := httptest.NewRequest(http.MethodPost, "/billing/appstore/notifications", bytes.NewReader(payload))
	req.Header.Set("X-Notification-Signature", "bogus")
	rr := httptest.NewRecorder()

	h.HandleNotification(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, archive.payloads, "unverified payloads are not archived")
}
