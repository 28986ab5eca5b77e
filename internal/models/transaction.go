package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusInitiated PaymentStatus = "initiated"
	StatusPending   PaymentStatus = "pending"
	StatusSuccess   PaymentStatus = "success"
	StatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s PaymentStatus) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

type EntityType string

const (
	EntityEvent        EntityType = "event"
	EntityRegistration EntityType = "registration"
	EntityDonation     EntityType = "donation"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityEvent, EntityRegistration, EntityDonation:
		return true
	}
	return false
}

// MetaReceiptID is the metadata key that carries the gateway-visible receipt.
const (
	MetaReceiptID     = "receipt_id"
	MetaPaymentLinkID = "payment_link_id"
)

type PaymentTransaction struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	PaymentConfigID   *string         `json:"payment_config_id"`
	RelatedEntityType *EntityType     `json:"related_entity_type"`
	RelatedEntityID   *string         `json:"related_entity_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"payment_status"`
	GatewayOrderID    *string         `json:"gateway_order_id"`
	GatewayPaymentID  *string         `json:"gateway_payment_id"`
	GatewaySignature  *string         `json:"-"`
	PaymentMethod     *string         `json:"payment_method"`
	FailureReason     *string         `json:"failure_reason"`
	Metadata          map[string]any  `json:"metadata"`
	CompletedAt       *time.Time      `json:"completed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (t PaymentTransaction) ReceiptID() string {
	if v, ok := t.Metadata[MetaReceiptID].(string); ok {
		return v
	}
	return ""
}

// HasRelatedEntity reports whether the transaction pays for a dependent record.
func (t PaymentTransaction) HasRelatedEntity() bool {
	return t.RelatedEntityType != nil && t.RelatedEntityID != nil && *t.RelatedEntityID != ""
}

// SuccessUpdate carries the fields written on the single transition into success.
type SuccessUpdate struct {
	GatewayPaymentID string
	GatewaySignature string // empty when promoted from a webhook
	PaymentMethod    string
	CompletedAt      time.Time
}
