package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentLink lets a member pay the registration fee without logging in.
// Only the bcrypt hash of the token secret is stored.
type PaymentLink struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	PaymentConfigID *string         `json:"payment_config_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	SecretHash      string          `json:"-"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Used            bool            `json:"used"`
	UsedAt          *time.Time      `json:"used_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (l PaymentLink) Expired(now time.Time) bool { return now.After(l.ExpiresAt) }
