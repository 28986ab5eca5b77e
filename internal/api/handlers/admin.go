package handlers

import (
	"net/http"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/middleware"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type AdminHandler struct {
	Payments *services.PaymentService
	Links    *services.PaymentLinkService
}

func NewAdminHandler(p *services.PaymentService, l *services.PaymentLinkService) *AdminHandler {
	return &AdminHandler{Payments: p, Links: l}
}

// Statistics: GET /api/v1/admin/payments/statistics?from=&to= (RFC 3339)
func (h *AdminHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}
	st, err := h.Payments.Statistics(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

// MarkFailed: POST /api/v1/admin/payments/{id}/fail
func (h *AdminHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	actor, _ := middleware.UserID(r.Context())
	tx, err := h.Payments.MarkPaymentFailed(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

// Refund: POST /api/v1/admin/payments/{id}/refund. Without amount the
// payment is refunded in full.
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := httpx.DecodeOptionalJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	actor, _ := middleware.UserID(r.Context())
	res, err := h.Payments.Refund(r.Context(), chi.URLParam(r, "id"), req.Amount, actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// AuditTrail: GET /api/v1/admin/payments/{id}/audit
func (h *AdminHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Payments.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// CreateLink: POST /api/v1/admin/payment-links
func (h *AdminHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID          string          `json:"user_id"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		PaymentConfigID string          `json:"payment_config_id"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	actor, _ := middleware.UserID(r.Context())
	link, err := h.Links.Create(r.Context(), services.CreateLinkInput{
		UserID:          req.UserID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentConfigID: req.PaymentConfigID,
		Actor:           actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, link)
}

// DeadLetters: GET /api/v1/admin/dead-letters
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	items, err := h.Payments.ListDeadLetters()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ReplayDeadLetters: POST /api/v1/admin/dead-letters/replay with an optional
// list of transaction ids.
func (h *AdminHandler) ReplayDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionIDs []string `json:"transaction_ids"`
	}
	if err := httpx.DecodeOptionalJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	rep, err := h.Payments.ReplayDeadLetters(r.Context(), req.TransactionIDs...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

func queryTime(w http.ResponseWriter, r *http.Request, key string) (*time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", key+" must be RFC 3339", nil)
		return nil, false
	}
	return &t, true
}
