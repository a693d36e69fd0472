package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicstories/mosaic/internal/domain"
)

// fakeLedger implements domain.LedgerStore for handler tests. Only the user
// endpoints are exercised here; the mutation paths belong to the webhook
// package's tests.
type fakeLedger struct {
	users     map[string]*domain.UserLedger
	createErr error
}

func newFakeLedger(users ...*domain.UserLedger) *fakeLedger {
	f := &fakeLedger{users: make(map[string]*domain.UserLedger)}
	for _, u := range users {
		f.users[u.Email] = u
	}
	return f
}

func (f *fakeLedger) FindUserByIdentity(ctx context.Context, id domain.UserIdentity) (*domain.UserLedger, error) {
	return nil, nil
}

func (f *fakeLedger) ApplyLedgerMutation(ctx context.Context, userID uuid.UUID, m domain.LedgerMutation) error {
	return nil
}

func (f *fakeLedger) CreateUser(ctx context.Context, params domain.CreateUserParams) (*domain.UserLedger, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, exists := f.users[params.Email]; exists {
		return nil, domain.Conflict("test.create", "A user with this email already exists")
	}
	u := &domain.UserLedger{
		ID:            uuid.New(),
		Email:         params.Email,
		Name:          params.Name,
		ListenCredits: params.StarterCredits,
		CreatedAt:     time.Now(),
	}
	f.users[u.Email] = u
	return u, nil
}

func (f *fakeLedger) GetUserByEmail(ctx context.Context, email string) (*domain.UserLedger, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, domain.NotFound("test.get", "user", email)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestCreateUser(t *testing.T) {
	ledger := newFakeLedger()
	h := NewUserHandler(ledger, 3)

	req := httptest.NewRequest(http.MethodPost, "/api/users",
		bytes.NewBufferString(`{"email": "reader@example.com", "name": "Reader"}`))
	rr := httptest.NewRecorder()

	h.CreateUser(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "reader@example.com", body["email"])
	assert.Equal(t, "Reader", body["name"])
	assert.Equal(t, false, body["is_premium"])
	assert.Equal(t, float64(3), body["listen_credits"])
	assert.NotContains(t, body, "stripe_customer_id")
	assert.NotContains(t, body, "billing_app_user_id")
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	existing := &domain.UserLedger{ID: uuid.New(), Email: "reader@example.com"}
	h := NewUserHandler(newFakeLedger(existing), 0)

	req := httptest.NewRequest(http.MethodPost, "/api/users",
		bytes.NewBufferString(`{"email": "reader@example.com", "name": "Reader"}`))
	rr := httptest.NewRecorder()

	h.CreateUser(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateUser_ValidationErrors(t *testing.T) {
	h := NewUserHandler(newFakeLedger(), 0)

	req := httptest.NewRequest(http.MethodPost, "/api/users",
		bytes.NewBufferString(`{"email": "not-an-email", "name": ""}`))
	rr := httptest.NewRecorder()

	h.CreateUser(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	fields, ok := errObj["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "name")
}

func TestCreateUser_InvalidJSON(t *testing.T) {
	h := NewUserHandler(newFakeLedger(), 0)

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{`))
	rr := httptest.NewRecorder()

	h.CreateUser(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetSubscription(t *testing.T) {
	future := time.Now().Add(48 * time.Hour)
	user := &domain.UserLedger{
		ID:               uuid.New(),
		Email:            "reader@example.com",
		Name:             "Reader",
		IsPremium:        true,
		PremiumExpiresAt: &future,
		ListenCredits:    42,
	}
	h := NewUserHandler(newFakeLedger(user), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/users/reader@example.com/subscription", nil)
	req.SetPathValue("email", "reader@example.com")
	rr := httptest.NewRecorder()

	h.GetSubscription(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["is_premium"])
	assert.Equal(t, float64(42), body["listen_credits"])
}

func TestGetSubscription_ExpiredPremiumReportsFree(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	user := &domain.UserLedger{
		ID:               uuid.New(),
		Email:            "lapsed@example.com",
		IsPremium:        true,
		PremiumExpiresAt: &past,
	}
	h := NewUserHandler(newFakeLedger(user), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/users/lapsed@example.com/subscription", nil)
	req.SetPathValue("email", "lapsed@example.com")
	rr := httptest.NewRecorder()

	h.GetSubscription(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["is_premium"], "a stale premium flag is masked once expiry passes")
}

func TestGetSubscription_UnknownEmail(t *testing.T) {
	h := NewUserHandler(newFakeLedger(), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/users/nobody@example.com/subscription", nil)
	req.SetPathValue("email", "nobody@example.com")
	rr := httptest.NewRecorder()

	h.GetSubscription(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
