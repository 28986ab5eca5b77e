package gateway

import (
	"encoding/json"
	"fmt"
)

// Webhook event names the payment flow reacts to.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventOrderPaid         = "order.paid"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
	EventPaymentRefunded   = "payment.refunded"
)

// WebhookEvent is a parsed delivery. Payment, Order and Refund are nil when
// the payload does not carry that entity.
type WebhookEvent struct {
	Event     string
	CreatedAt int64
	Payment   *Payment
	Order     *Order
	Refund    *Refund
}

type webhookEnvelope struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity Payment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity Order `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity Refund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a delivery body. Call it only after the
// signature over the same bytes has been verified.
func ParseWebhookEvent(raw []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Event == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook without event name", ErrMalformedResponse)
	}
	ev := WebhookEvent{Event: env.Event, CreatedAt: env.CreatedAt}
	if p := env.Payload.Payment; p != nil {
		if p.Entity.ID == "" {
			return WebhookEvent{}, fmt.Errorf("%w: payment entity without id", ErrMalformedResponse)
		}
		pay := p.Entity
		ev.Payment = &pay
	}
	if o := env.Payload.Order; o != nil && o.Entity.ID != "" {
		ord := o.Entity
		ev.Order = &ord
	}
	if r := env.Payload.Refund; r != nil && r.Entity.ID != "" {
		ref := r.Entity
		ev.Refund = &ref
	}
	return ev, nil
}

// OrderID returns the gateway order the event belongs to, if any.
func (e WebhookEvent) OrderID() string {
	if e.Payment != nil && e.Payment.OrderID != "" {
		return e.Payment.OrderID
	}
	if e.Order != nil {
		return e.Order.ID
	}
	return ""
}
