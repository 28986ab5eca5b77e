package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/shopspring/decimal"
)

func TestConditionalTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, _ := s.Create(ctx, models.PaymentTransaction{UserID: "U1", Amount: decimal.NewFromInt(5), Currency: "INR", Status: models.StatusInitiated})

	if _, err := s.MarkSuccess(ctx, "nope", models.SuccessUpdate{GatewayPaymentID: "p"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.AttachOrder(ctx, tx.ID, "order_1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := s.AttachOrder(ctx, tx.ID, "order_2"); !errors.Is(err, repository.ErrNoTransition) {
		t.Fatalf("second attach: expected ErrNoTransition, got %v", err)
	}
	if _, err := s.MarkSuccess(ctx, tx.ID, models.SuccessUpdate{GatewayPaymentID: "pay_1", CompletedAt: time.Now()}); err != nil {
		t.Fatalf("success: %v", err)
	}
	if _, err := s.MarkSuccess(ctx, tx.ID, models.SuccessUpdate{GatewayPaymentID: "pay_2"}); !errors.Is(err, repository.ErrNoTransition) {
		t.Fatalf("second success: expected ErrNoTransition, got %v", err)
	}
	if _, err := s.MarkFailed(ctx, tx.ID, "late"); !errors.Is(err, repository.ErrNoTransition) {
		t.Fatalf("fail after success: expected ErrNoTransition, got %v", err)
	}
	got, _ := s.GetByID(ctx, tx.ID)
	if got.Status != models.StatusSuccess || *got.GatewayPaymentID != "pay_1" {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestEntityWritesRequireExistingRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.MarkEventRegistrationPaid(ctx, "E404", "tx"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s.AddEvent("E1")
	_ = s.MarkEventRegistrationPaid(ctx, "E1", "tx")
	_ = s.MarkEventRegistrationPaid(ctx, "E1", "tx")
	if s.Event("E1").PaymentStatus != "paid" || s.Writes() != 2 {
		t.Fatalf("unexpected state %+v writes=%d", s.Event("E1"), s.Writes())
	}
}
