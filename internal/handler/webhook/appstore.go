package webhook

import (
	"io"
	"net/http"

	"github.com/mosaicstories/mosaic/internal/billing"
	"github.com/mosaicstories/mosaic/internal/domain"
	"github.com/mosaicstories/mosaic/internal/handler"
	"github.com/mosaicstories/mosaic/internal/middleware"
)

// AppStoreHandler handles App Store server notifications (V2 shape, decoded
// upstream by the notification relay).
type AppStoreHandler struct {
	normalizer *billing.AppStoreNormalizer
	verifier   *billing.Verifier
	processor  *Processor
	archive    domain.NotificationStore
}

// NewAppStoreHandler creates a new App Store notification handler.
func NewAppStoreHandler(normalizer *billing.AppStoreNormalizer, verifier *billing.Verifier, processor *Processor, archive domain.NotificationStore) *AppStoreHandler {
	return &AppStoreHandler{
		normalizer: normalizer,
		verifier:   verifier,
		processor:  processor,
		archive:    archive,
	}
}

// HandleNotification processes an incoming App Store notification. The raw
// payload is archived before any processing so unhandled notification types
// remain inspectable.
func (h *AppStoreHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.appstore", "Error reading request body"))
		return
	}

	if h.verifier.Enabled() {
		if !h.verifier.Verify(payload, r.Header.Get("X-Notification-Signature")) {
			logger.Warn("appstore signature verification failed")
			handler.ErrorResponse(w, r, domain.Unauthorized("webhook.appstore", "Invalid signature"))
			return
		}
	}

	if err := h.archive.ArchiveAppStoreNotification(r.Context(), payload); err != nil {
		// Archive failure alone is not worth a retry storm; log and continue.
		logger.Error("failed to archive appstore notification", "error", err.Error())
	}

	ev, err := h.normalizer.Normalize(payload)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.appstore", "Unparseable notification payload"))
		return
	}

	if _, err := h.processor.Process(r.Context(), logger, ev); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
