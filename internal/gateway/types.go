package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedResponse = errors.New("gateway: malformed response")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// Notes is the gateway's free-form key/value bag. Empty notes arrive as a
// JSON array, so both shapes are accepted.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("[]")) {
		*n = Notes{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(Notes, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	*n = out
	return nil
}

type OrderRequest struct {
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Notes       Notes  `json:"notes"`
}

type Order struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"` // created | attempted | paid
	Attempts   int    `json:"attempts"`
	Notes      Notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

func (o Order) validate() error {
	if o.ID == "" || o.Status == "" || o.Amount <= 0 {
		return fmt.Errorf("%w: order missing id/status/amount", ErrMalformedResponse)
	}
	return nil
}

func (o Order) Paid() bool { return o.Status == "paid" && o.AmountPaid == o.Amount }

func (o Order) Open() bool { return o.Status == "created" || o.Status == "attempted" }

// Payment statuses as reported by the gateway.
const (
	PaymentCreated    = "created"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentRefunded   = "refunded"
	PaymentFailed     = "failed"
)

type Payment struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	AmountRefunded   int64  `json:"amount_refunded"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Notes            Notes  `json:"notes"`
	CreatedAt        int64  `json:"created_at"`
}

func (p Payment) validate() error {
	if p.ID == "" || p.Status == "" || p.Amount <= 0 || p.Method == "" {
		return fmt.Errorf("%w: payment missing id/status/amount/method", ErrMalformedResponse)
	}
	return nil
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

func (r Refund) validate() error {
	if r.ID == "" || r.Amount <= 0 {
		return fmt.Errorf("%w: refund missing id/amount", ErrMalformedResponse)
	}
	return nil
}

type orderList struct {
	Count int     `json:"count"`
	Items []Order `json:"items"`
}
