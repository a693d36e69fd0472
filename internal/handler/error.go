package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mosaicstories/mosaic/internal/domain"
	"github.com/mosaicstories/mosaic/internal/middleware"
)

// ErrorResponse writes a structured JSON error response:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Internal errors get a generic message; the real error goes to the log.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := ErrorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("code", code),
		slog.Int("status", status),
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// ValidationErrorResponse writes a 400 with per-field messages:
//
//	{"error": {"code": "invalid", "message": "...", "fields": {"email": "..."}}}
//
// Falls back to ErrorResponse when fields is empty.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error, fields map[string]string) {
	if len(fields) == 0 {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    domain.EINVALID,
			"message": domain.ErrorMessage(err),
			"fields":  fields,
		},
	})
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}
