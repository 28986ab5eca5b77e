package handlers

import (
	"net/http"
	"strconv"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/middleware"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	Svc *services.PaymentService
}

func NewPaymentHandler(s *services.PaymentService) *PaymentHandler { return &PaymentHandler{Svc: s} }

type createOrderReq struct {
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RelatedEntityType string          `json:"related_entity_type"`
	RelatedEntityID   string          `json:"related_entity_id"`
	PaymentConfigID   string          `json:"payment_config_id"`
	Metadata          map[string]any  `json:"metadata"`
}

// CreateOrder: POST /api/v1/payments/create-order
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	var req createOrderReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	res, err := h.Svc.CreatePaymentOrder(r.Context(), services.CreateOrderInput{
		UserID:            uid,
		Amount:            req.Amount,
		Currency:          req.Currency,
		RelatedEntityType: models.EntityType(req.RelatedEntityType),
		RelatedEntityID:   req.RelatedEntityID,
		PaymentConfigID:   req.PaymentConfigID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

type verifyReq struct {
	TransactionID     string `json:"transaction_id"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (v verifyReq) input() services.VerifyInput {
	return services.VerifyInput{
		TransactionID:    v.TransactionID,
		GatewayOrderID:   v.RazorpayOrderID,
		GatewayPaymentID: v.RazorpayPaymentID,
		Signature:        v.RazorpaySignature,
	}
}

// Verify: POST /api/v1/payments/verify. 200 on success, 400 with
// success:false when the payment is rejected.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	var req verifyReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	in := req.input()
	in.UserID = uid
	res, err := h.Svc.VerifyPayment(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeVerifyResult(w, res)
}

func writeVerifyResult(w http.ResponseWriter, res services.VerifyResult) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	httpx.WriteJSON(w, status, res)
}

// History: GET /api/v1/payments/history?page=&page_size=
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	size, ok := queryInt(w, r, "page_size", services.DefaultPageSize)
	if !ok {
		return
	}
	res, err := h.Svc.History(r.Context(), uid, page, size)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// Status: GET /api/v1/payments/status/{id}
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	tx, err := h.Svc.TransactionForUser(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

// Summary: GET /api/v1/payments/summary
func (h *PaymentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserID(r.Context())
	sum, err := h.Svc.UserSummary(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sum)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", key+" must be an integer", nil)
		return 0, false
	}
	return n, true
}
