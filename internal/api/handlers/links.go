package handlers

import (
	"net/http"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
)

// LinkHandler serves the unauthenticated payment-link routes. The token in
// the body is the only credential.
type LinkHandler struct {
	Svc *services.PaymentLinkService
}

func NewLinkHandler(s *services.PaymentLinkService) *LinkHandler { return &LinkHandler{Svc: s} }

type tokenReq struct {
	Token string `json:"token"`
}

// Validate: POST /api/v1/payment-links/validate
func (h *LinkHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req tokenReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	info, err := h.Svc.Validate(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

// CreateOrder: POST /api/v1/payment-links/order
func (h *LinkHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req tokenReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	res, err := h.Svc.CreateOrder(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

// Verify: POST /api/v1/payment-links/verify
func (h *LinkHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		verifyReq
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	res, err := h.Svc.Verify(r.Context(), req.Token, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeVerifyResult(w, res)
}
