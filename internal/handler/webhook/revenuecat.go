package webhook

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/mosaicstories/mosaic/internal/billing"
	"github.com/mosaicstories/mosaic/internal/domain"
	"github.com/mosaicstories/mosaic/internal/handler"
	"github.com/mosaicstories/mosaic/internal/middleware"
)

// RevenueCatHandler handles RevenueCat webhook events.
//
// RevenueCat supports two authentication schemes: a static Authorization
// header configured in their dashboard, and an HMAC-SHA256 signature of the
// body. Either may be configured; when both are, both must pass.
type RevenueCatHandler struct {
	normalizer *billing.RevenueCatNormalizer
	verifier   *billing.Verifier
	processor  *Processor

	// authHeader is the expected Authorization header value, empty to skip.
	authHeader string
}

// NewRevenueCatHandler creates a new RevenueCat webhook handler.
func NewRevenueCatHandler(normalizer *billing.RevenueCatNormalizer, verifier *billing.Verifier, processor *Processor, authHeader string) *RevenueCatHandler {
	return &RevenueCatHandler{
		normalizer: normalizer,
		verifier:   verifier,
		processor:  processor,
		authHeader: authHeader,
	}
}

// HandleWebhook processes incoming RevenueCat webhook events.
func (h *RevenueCatHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	if h.authHeader != "" {
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.authHeader)) != 1 {
			logger.Warn("revenuecat authorization header mismatch")
			handler.ErrorResponse(w, r, domain.Unauthorized("webhook.revenuecat", "Invalid authorization"))
			return
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.revenuecat", "Error reading request body"))
		return
	}

	if h.verifier.Enabled() {
		if !h.verifier.Verify(payload, r.Header.Get("X-RevenueCat-Signature")) {
			logger.Warn("revenuecat signature verification failed")
			handler.ErrorResponse(w, r, domain.Unauthorized("webhook.revenuecat", "Invalid signature"))
			return
		}
	} else if h.authHeader == "" {
		logger.Warn("revenuecat webhook authentication not configured, accepting unverified event")
	}

	ev, err := h.normalizer.Normalize(payload)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.revenuecat", "Unparseable event payload"))
		return
	}

	if _, err := h.processor.Process(r.Context(), logger, ev); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
