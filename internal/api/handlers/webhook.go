package handlers

import (
	"io"
	"net/http"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Svc *services.WebhookService
}

func NewWebhookHandler(s *services.WebhookService) *WebhookHandler { return &WebhookHandler{Svc: s} }

// Handle: POST /api/v1/payments/webhook. The body is read raw because the
// signature covers the exact bytes sent.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "webhook body too large", nil)
		return
	}
	res, err := h.Svc.Handle(r.Context(), raw, r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
