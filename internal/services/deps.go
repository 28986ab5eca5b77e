package services

import (
	"context"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/deadletter"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
)

// Gateway is the slice of the payment gateway client the services use.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (gateway.Payment, error)
	FetchOrder(ctx context.Context, orderID string) (gateway.Order, error)
	OrdersByReceipt(ctx context.Context, receipt string) ([]gateway.Order, error)
	Refund(ctx context.Context, paymentID string, amountMinor *int64) (gateway.Refund, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(rawBody []byte, signature string) bool
}

// DeadLetters keeps entity updates that failed after a payment succeeded.
type DeadLetters interface {
	Record(e deadletter.Entry) error
	List() ([]deadletter.Entry, error)
	Delete(transactionID string) error
}

// Submitter runs post-commit work in the background.
type Submitter interface {
	Submit(f func())
}
