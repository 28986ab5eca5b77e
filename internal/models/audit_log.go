package models

import "time"

// AuditLog is one append-only entry in a transaction's history.
type AuditLog struct {
	ID            int64          `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details"`
	CreatedAt     time.Time      `json:"created_at"`
}
