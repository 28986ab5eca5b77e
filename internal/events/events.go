// Package events publishes payment outcome events after the transaction row
// has been committed. Publishing is fire-and-forget: a broker outage never
// changes a payment's state.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentSucceeded = "payment.succeeded"
	PaymentFailed    = "payment.failed"
)

type PaymentEvent struct {
	Type              string          `json:"type"`
	TransactionID     string          `json:"transaction_id"`
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	GatewayOrderID    string          `json:"gateway_order_id,omitempty"`
	GatewayPaymentID  string          `json:"gateway_payment_id,omitempty"`
	RelatedEntityType string          `json:"related_entity_type,omitempty"`
	RelatedEntityID   string          `json:"related_entity_id,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e PaymentEvent) error
	Close() error
}
