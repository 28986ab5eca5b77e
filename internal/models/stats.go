package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatistics struct {
	TotalTransactions  int64           `json:"total_transactions"`
	SuccessfulPayments int64           `json:"successful_payments"`
	FailedPayments     int64           `json:"failed_payments"`
	PendingPayments    int64           `json:"pending_payments"`
	TotalRevenue       decimal.Decimal `json:"total_revenue"`
	AverageValue       decimal.Decimal `json:"average_transaction_value"`
	SuccessRate        float64         `json:"success_rate"`
}

type UserPaymentSummary struct {
	TotalPaid       decimal.Decimal `json:"total_paid"`
	TotalPending    decimal.Decimal `json:"total_pending"`
	TotalFailed     decimal.Decimal `json:"total_failed"`
	LastPaymentDate *time.Time      `json:"last_payment_date"`
}

// MemberProfile is the slice of a member profile the payment flow reads.
type MemberProfile struct {
	ID                        string `json:"id"`
	FullName                  string `json:"full_name"`
	Email                     string `json:"email"`
	RegistrationPaymentStatus string `json:"registration_payment_status"`
}

func (p MemberProfile) RegistrationSettled() bool {
	return p.RegistrationPaymentStatus == "paid" || p.RegistrationPaymentStatus == "waived"
}
