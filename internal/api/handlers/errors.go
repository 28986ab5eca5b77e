package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
)

// writeServiceError maps service errors onto HTTP statuses. Transient
// failures are marked retryable.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fields validate.Errs
	switch {
	case errors.Is(err, services.ErrValidation):
		errors.As(err, &fields)
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "invalid request", fields)
	case errors.Is(err, services.ErrInvalidSignature):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_signature", "invalid signature", nil)
	case errors.Is(err, services.ErrLinkInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "link_invalid", err.Error(), nil)
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "forbidden", nil)
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, services.ErrGateway):
		httpx.WriteRetryable(w, http.StatusBadGateway, "gateway_error", "payment gateway unavailable")
	case errors.Is(err, services.ErrPersistence):
		httpx.WriteRetryable(w, http.StatusServiceUnavailable, "persistence_error", "payment store unavailable")
	default:
		slog.Error("unhandled service error", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func badBody(w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error(), nil)
		return
	}
	httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed JSON body", nil)
}
