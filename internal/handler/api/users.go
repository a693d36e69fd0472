package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mosaicstories/mosaic/internal/domain"
	"github.com/mosaicstories/mosaic/internal/handler"
	"github.com/mosaicstories/mosaic/internal/middleware"
	"github.com/mosaicstories/mosaic/internal/telemetry"
)

// UserHandler serves the user signup and subscription status endpoints used
// by the mobile app.
type UserHandler struct {
	ledger         domain.LedgerStore
	validate       *validator.Validate
	starterCredits int32
}

// NewUserHandler creates a new user API handler.
func NewUserHandler(ledger domain.LedgerStore, starterCredits int32) *UserHandler {
	return &UserHandler{
		ledger:         ledger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		starterCredits: starterCredits,
	}
}

type createUserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,max=100"`
}

// userResponse is the caller-facing projection of a ledger row. Billing
// identifiers stay internal.
type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	IsPremium        bool       `json:"is_premium"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
	IsPaused         bool       `json:"is_paused"`
	IsCancelled      bool       `json:"is_cancelled"`
	BillingIssue     bool       `json:"billing_issue"`
	ListenCredits    int32      `json:"listen_credits"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toUserResponse(u *domain.UserLedger, now time.Time) userResponse {
	return userResponse{
		ID:               u.ID.String(),
		Email:            u.Email,
		Name:             u.Name,
		IsPremium:        u.PremiumNow(now),
		PremiumExpiresAt: u.PremiumExpiresAt,
		IsPaused:         u.IsPaused,
		IsCancelled:      u.IsCancelled,
		BillingIssue:     u.BillingIssue,
		ListenCredits:    u.ListenCredits,
		CreatedAt:        u.CreatedAt,
	}
}

// CreateUser handles POST /api/users. New users start on the free tier with
// the configured starter credit balance.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("user.create", "Invalid JSON body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		errors.As(err, &verrs)
		for _, fe := range verrs {
			switch fe.Field() {
			case "Email":
				fields["email"] = "a valid email address is required"
			case "Name":
				fields["name"] = "name is required and must be at most 100 characters"
			}
		}
		handler.ValidationErrorResponse(w, r, domain.Invalid("user.create", "Validation failed"), fields)
		return
	}

	user, err := h.ledger.CreateUser(r.Context(), domain.CreateUserParams{
		Email:          req.Email,
		Name:           req.Name,
		StarterCredits: h.starterCredits,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.Signups.WithLabelValues("api").Inc()
	}
	logger.Info("user created", "user_id", user.ID.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toUserResponse(user, time.Now()))
}

// GetSubscription handles GET /api/users/{email}/subscription.
func (h *UserHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if email == "" {
		handler.ErrorResponse(w, r, domain.Invalid("user.subscription", "email is required"))
		return
	}

	user, err := h.ledger.GetUserByEmail(r.Context(), email)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user, time.Now()))
}
