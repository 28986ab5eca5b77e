package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/deadletter"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/shopspring/decimal"
)

// MarkPaymentFailed is the operator override for a stuck transaction.
// Terminal transactions are left alone and reported as a conflict.
func (s *PaymentService) MarkPaymentFailed(ctx context.Context, id, reason, actor string) (models.PaymentTransaction, error) {
	if strings.TrimSpace(reason) == "" {
		return models.PaymentTransaction{}, fmt.Errorf("%w: %w", ErrValidation, validate.Errs{{Field: "reason", Msg: "required"}})
	}
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return tx, err
	}
	if tx.Status.Terminal() {
		return tx, fmt.Errorf("%w: transaction is %s", ErrConflict, tx.Status)
	}
	updated, err := s.fail(ctx, tx, reason, "admin:"+actor)
	if err != nil {
		return updated, err
	}
	if updated.Status != models.StatusFailed {
		return updated, fmt.Errorf("%w: transaction is %s", ErrConflict, updated.Status)
	}
	return updated, nil
}

type RefundResult struct {
	TransactionID string          `json:"transaction_id"`
	RefundID      string          `json:"refund_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"refund_status"`
}

// Refund refunds a successful payment in full, or partially when amount is
// set. The transaction stays success; the refund is recorded in the audit
// log.
func (s *PaymentService) Refund(ctx context.Context, id string, amount *decimal.Decimal, actor string) (RefundResult, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return RefundResult{}, err
	}
	if tx.Status != models.StatusSuccess || tx.GatewayPaymentID == nil {
		return RefundResult{}, fmt.Errorf("%w: only successful payments can be refunded, transaction is %s", ErrConflict, tx.Status)
	}
	var minor *int64
	refundAmount := tx.Amount
	if amount != nil {
		var errs validate.Errs
		errs.Add(validate.PositiveAmount("amount", *amount))
		if amount.GreaterThan(tx.Amount) {
			errs.Add(&validate.ErrField{Field: "amount", Msg: "exceeds the paid amount"})
		}
		if err := errs.Err(); err != nil {
			return RefundResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		m := gateway.ToMinor(*amount)
		minor, refundAmount = &m, *amount
	}

	r, err := s.gw.Refund(ctx, *tx.GatewayPaymentID, minor)
	if err != nil {
		s.log.Error("refund failed", "op", "refund_failed", "transaction_id", tx.ID, "err", err)
		return RefundResult{}, fmt.Errorf("%w: refund: %v", ErrGateway, err)
	}
	if r.Amount > 0 {
		refundAmount = gateway.FromMinor(r.Amount)
	}
	s.audit(ctx, tx.ID, "refund_initiated", map[string]any{
		"refund_id": r.ID, "amount": refundAmount.StringFixed(2), "actor": actor,
	})
	s.log.Info("refund initiated", "op", "refund_initiated", "transaction_id", tx.ID, "refund_id", r.ID, "actor", actor)
	return RefundResult{
		TransactionID: tx.ID,
		RefundID:      r.ID,
		Amount:        refundAmount,
		Currency:      tx.Currency,
		Status:        r.Status,
	}, nil
}

type ReconcileInput struct {
	OlderThan time.Duration
	FailStale bool
	Limit     int
}

type ReconcileItem struct {
	TransactionID string `json:"transaction_id"`
	Action        string `json:"action"` // attached|failed|paid_awaiting_webhook|skipped|error
	Detail        string `json:"detail,omitempty"`
}

type ReconcileReport struct {
	Items []ReconcileItem `json:"items"`
}

func (r ReconcileReport) Count(action string) int {
	n := 0
	for _, it := range r.Items {
		if it.Action == action {
			n++
		}
	}
	return n
}

// Reconcile recovers transactions stuck before a terminal state.
// Initiated rows are matched to gateway orders by receipt id and attached.
// With FailStale, initiated rows without an order and pending rows whose
// order was never paid are marked failed.
func (s *PaymentService) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileReport, error) {
	if in.OlderThan <= 0 {
		in.OlderThan = time.Hour
	}
	if in.Limit <= 0 {
		in.Limit = 100
	}
	cutoff := s.now().Add(-in.OlderThan)
	report := ReconcileReport{Items: []ReconcileItem{}}

	initiated, err := s.txs.ListStale(ctx, models.StatusInitiated, cutoff, in.Limit)
	if err != nil {
		return report, storeErr("list initiated", err)
	}
	for _, tx := range initiated {
		report.Items = append(report.Items, s.reconcileInitiated(ctx, tx, in.FailStale))
	}
	if !in.FailStale {
		return report, nil
	}
	pending, err := s.txs.ListStale(ctx, models.StatusPending, cutoff, in.Limit)
	if err != nil {
		return report, storeErr("list pending", err)
	}
	for _, tx := range pending {
		report.Items = append(report.Items, s.reconcilePending(ctx, tx))
	}
	return report, nil
}

func (s *PaymentService) reconcileInitiated(ctx context.Context, tx models.PaymentTransaction, failStale bool) ReconcileItem {
	item := ReconcileItem{TransactionID: tx.ID}
	receipt := tx.ReceiptID()
	if receipt != "" {
		orders, err := s.gw.OrdersByReceipt(ctx, receipt)
		if err != nil {
			item.Action, item.Detail = "error", err.Error()
			return item
		}
		for _, o := range orders {
			if o.Amount != gateway.ToMinor(tx.Amount) {
				continue
			}
			if _, err := s.txs.AttachOrder(ctx, tx.ID, o.ID); err != nil {
				item.Action, item.Detail = "error", err.Error()
				return item
			}
			s.audit(ctx, tx.ID, "order_recovered", map[string]any{"gateway_order_id": o.ID})
			s.log.Info("orphaned order attached", "op", "reconcile_attached", "transaction_id", tx.ID, "gateway_order_id", o.ID)
			item.Action, item.Detail = "attached", o.ID
			return item
		}
	}
	if !failStale {
		item.Action, item.Detail = "skipped", "no gateway order"
		return item
	}
	return s.reconcileFail(ctx, tx, "abandoned before order creation")
}

func (s *PaymentService) reconcilePending(ctx context.Context, tx models.PaymentTransaction) ReconcileItem {
	item := ReconcileItem{TransactionID: tx.ID}
	order, err := s.gw.FetchOrder(ctx, deref(tx.GatewayOrderID))
	if err != nil {
		item.Action, item.Detail = "error", err.Error()
		return item
	}
	if order.Paid() || order.AmountPaid > 0 {
		item.Action, item.Detail = "paid_awaiting_webhook", order.ID
		s.log.Warn("paid order still pending locally", "op", "reconcile_paid_pending", "transaction_id", tx.ID, "gateway_order_id", order.ID)
		return item
	}
	return s.reconcileFail(ctx, tx, "payment not completed")
}

func (s *PaymentService) reconcileFail(ctx context.Context, tx models.PaymentTransaction, reason string) ReconcileItem {
	item := ReconcileItem{TransactionID: tx.ID}
	updated, err := s.fail(ctx, tx, reason, "reconcile")
	switch {
	case err != nil:
		item.Action, item.Detail = "error", err.Error()
	case updated.Status == models.StatusFailed:
		item.Action, item.Detail = "failed", reason
	default:
		item.Action, item.Detail = "skipped", "now "+string(updated.Status)
	}
	return item
}

func (s *PaymentService) ListDeadLetters() ([]deadletter.Entry, error) {
	if s.dead == nil {
		return []deadletter.Entry{}, nil
	}
	items, err := s.dead.List()
	if err != nil {
		return nil, fmt.Errorf("%w: dead letters: %v", ErrPersistence, err)
	}
	return items, nil
}

type ReplayReport struct {
	Replayed  []string          `json:"replayed"`
	Dropped   []string          `json:"dropped"`
	Remaining map[string]string `json:"remaining"`
}

// ReplayDeadLetters reapplies failed entity updates. With no ids every
// entry is replayed. Entries whose transaction is no longer successful are
// dropped.
func (s *PaymentService) ReplayDeadLetters(ctx context.Context, ids ...string) (ReplayReport, error) {
	rep := ReplayReport{Replayed: []string{}, Dropped: []string{}, Remaining: map[string]string{}}
	entries, err := s.ListDeadLetters()
	if err != nil {
		return rep, err
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for _, e := range entries {
		if len(want) > 0 && !want[e.TransactionID] {
			continue
		}
		tx, err := s.txs.GetByID(ctx, e.TransactionID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && tx.Status != models.StatusSuccess) {
			_ = s.dead.Delete(e.TransactionID)
			rep.Dropped = append(rep.Dropped, e.TransactionID)
			continue
		}
		if err != nil {
			rep.Remaining[e.TransactionID] = err.Error()
			continue
		}
		if err := s.entities.UpdateRelatedEntity(ctx, models.EntityType(e.EntityType), e.EntityID, tx.ID); err != nil {
			e.LastError, e.LastFailedAt = err.Error(), s.now()
			_ = s.dead.Record(e)
			rep.Remaining[e.TransactionID] = err.Error()
			continue
		}
		if err := s.dead.Delete(e.TransactionID); err != nil {
			rep.Remaining[e.TransactionID] = err.Error()
			continue
		}
		s.audit(ctx, tx.ID, "entity_update_replayed", map[string]any{"entity_type": e.EntityType, "entity_id": e.EntityID})
		rep.Replayed = append(rep.Replayed, e.TransactionID)
	}
	return rep, nil
}
