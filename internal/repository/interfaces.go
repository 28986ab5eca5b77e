package repository

import (
	"context"
	"errors"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrNoTransition means a conditional status write matched no row: the
	// transaction is not in a state that allows the transition.
	ErrNoTransition = errors.New("status transition not allowed")
)

// Transactions persists PaymentTransaction rows. Every mutation is a single
// conditional update; amount, currency, user and related entity are written
// only by Create.
type Transactions interface {
	Create(ctx context.Context, tx models.PaymentTransaction) (models.PaymentTransaction, error)
	GetByID(ctx context.Context, id string) (models.PaymentTransaction, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (models.PaymentTransaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, int, error)
	ListStale(ctx context.Context, status models.PaymentStatus, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error)

	// AttachOrder sets gateway_order_id and moves initiated -> pending.
	AttachOrder(ctx context.Context, id, gatewayOrderID string) (models.PaymentTransaction, error)
	// MarkSuccess moves initiated|pending -> success and writes the payment
	// fields exactly once.
	MarkSuccess(ctx context.Context, id string, u models.SuccessUpdate) (models.PaymentTransaction, error)
	// MarkFailed moves initiated|pending -> failed.
	MarkFailed(ctx context.Context, id, reason string) (models.PaymentTransaction, error)

	Statistics(ctx context.Context, from, to *time.Time) (models.PaymentStatistics, error)
	UserSummary(ctx context.Context, userID string) (models.UserPaymentSummary, error)
}

// RelatedEntities writes payment outcomes to records owned by other
// subsystems. Writes are plain overwrites so repeating one is harmless.
type RelatedEntities interface {
	MarkEventRegistrationPaid(ctx context.Context, registrationID, transactionID string) error
	MarkMembershipPaid(ctx context.Context, profileID, transactionID string) error
	MarkDonationCompleted(ctx context.Context, donationID, transactionID string) error
	GetProfile(ctx context.Context, id string) (models.MemberProfile, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
	// ListByTransaction returns entries oldest first.
	ListByTransaction(ctx context.Context, transactionID string) ([]models.AuditLog, error)
}

type PaymentLinks interface {
	Create(ctx context.Context, l models.PaymentLink) (models.PaymentLink, error)
	GetByID(ctx context.Context, id string) (models.PaymentLink, error)
	// MarkUsed flips used=false -> true; ErrNoTransition when already used.
	MarkUsed(ctx context.Context, id string, at time.Time) error
}
