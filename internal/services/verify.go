package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/deadletter"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/events"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
)

type VerifyInput struct {
	TransactionID    string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	// UserID, when set, must own the transaction.
	UserID string
}

type VerifyResult struct {
	Success       bool                 `json:"success"`
	TransactionID string               `json:"transaction_id"`
	Status        models.PaymentStatus `json:"payment_status"`
	Message       string               `json:"message"`
}

func (in VerifyInput) validate() error {
	var errs validate.Errs
	errs.Add(
		validate.Required("transaction_id", in.TransactionID),
		validate.Required("razorpay_order_id", in.GatewayOrderID),
		validate.Required("razorpay_payment_id", in.GatewayPaymentID),
		validate.Required("razorpay_signature", in.Signature),
	)
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// VerifyPayment checks a checkout callback. The signature is computed over
// the order id stored on the transaction, never over a client-chosen one.
// After a valid signature the payment is fetched from the gateway and its
// order, amount and status must agree with the transaction before it is
// promoted to success.
func (s *PaymentService) VerifyPayment(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	if err := in.validate(); err != nil {
		return VerifyResult{}, err
	}
	if !validID(in.TransactionID) {
		return VerifyResult{}, fmt.Errorf("load transaction: %w", ErrNotFound)
	}
	tx, err := s.txs.GetByID(ctx, in.TransactionID)
	if err != nil {
		return VerifyResult{}, storeErr("load transaction", err)
	}
	if in.UserID != "" && tx.UserID != in.UserID {
		return VerifyResult{}, ErrForbidden
	}
	log := s.log.With("op", "verify", "transaction_id", tx.ID, "payment_id", in.GatewayPaymentID)

	if tx.GatewayOrderID == nil {
		log.Warn("verify before order creation", "status", tx.Status)
		metrics.Verifications.WithLabelValues("mismatch").Inc()
		return result(tx, false, "transaction has no gateway order"), nil
	}
	stored := *tx.GatewayOrderID
	sigOK := in.GatewayOrderID == stored && s.gw.VerifyPaymentSignature(stored, in.GatewayPaymentID, in.Signature)

	if tx.Status.Terminal() {
		if tx.Status == models.StatusSuccess && sigOK && samePayment(tx, in.GatewayPaymentID) {
			metrics.Verifications.WithLabelValues("idempotent").Inc()
			return result(tx, true, "payment already verified"), nil
		}
		if tx.Status == models.StatusFailed && sigOK {
			s.flagCaptureOnFailed(ctx, tx, in.GatewayPaymentID, "verify")
			return result(tx, false, "transaction already failed; payment flagged for review"), nil
		}
		log.Warn("verify on terminal transaction", "status", tx.Status, "signature_ok", sigOK)
		return result(tx, false, "transaction already "+string(tx.Status)), nil
	}

	if !sigOK {
		log.Warn("payment signature mismatch", "submitted_order_id", in.GatewayOrderID, "gateway_order_id", stored)
		metrics.Verifications.WithLabelValues("invalid_signature").Inc()
		tx, err = s.fail(ctx, tx, "invalid signature", "verify")
		if err != nil {
			return VerifyResult{}, err
		}
		return result(tx, false, "invalid payment signature"), nil
	}

	payment, err := s.gw.FetchPayment(ctx, in.GatewayPaymentID)
	if err != nil {
		log.Error("payment fetch failed", "err", err)
		return VerifyResult{}, fmt.Errorf("%w: fetch payment: %v", ErrGateway, err)
	}
	// Only a signature mismatch fails the transaction here. A declined
	// attempt can be followed by a successful one on the same order.
	if kind, reason := s.checkPayment(tx, payment); reason != "" {
		metrics.Verifications.WithLabelValues("mismatch").Inc()
		s.rejectPayment(ctx, tx, payment.ID, kind, reason, "verify")
		return result(tx, false, reason), nil
	}
	if !paymentCompleted(payment) {
		log.Info("payment not completed yet", "gateway_status", payment.Status)
		return result(tx, false, "payment not completed"), nil
	}

	tx, err = s.promote(ctx, tx, models.SuccessUpdate{
		GatewayPaymentID: payment.ID,
		GatewaySignature: in.Signature,
		PaymentMethod:    payment.Method,
		CompletedAt:      s.now(),
	}, "verify")
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.Verifications.WithLabelValues("conflict").Inc()
		}
		return VerifyResult{}, err
	}
	if tx.Status != models.StatusSuccess {
		return result(tx, false, "transaction already "+string(tx.Status)), nil
	}
	metrics.Verifications.WithLabelValues("success").Inc()
	return result(tx, true, "payment verified"), nil
}

// checkPayment compares the gateway's view of a payment with the
// transaction. A non-empty kind marks a discrepancy an operator should see;
// a declined attempt has a reason but no kind.
func (s *PaymentService) checkPayment(tx models.PaymentTransaction, p gateway.Payment) (kind, reason string) {
	switch {
	case tx.GatewayOrderID == nil || p.OrderID != *tx.GatewayOrderID:
		return "order_mismatch", "payment belongs to another order"
	case p.Amount != gateway.ToMinor(tx.Amount):
		return "amount_mismatch", fmt.Sprintf("amount mismatch: expected %d, gateway reported %d", gateway.ToMinor(tx.Amount), p.Amount)
	case p.Currency != "" && !strings.EqualFold(p.Currency, tx.Currency):
		return "amount_mismatch", "currency mismatch"
	case p.Status == gateway.PaymentFailed:
		if p.ErrorDescription != "" {
			return "", p.ErrorDescription
		}
		return "", "payment failed at gateway"
	}
	return "", ""
}

// rejectPayment records a payment that cannot settle the transaction. The
// transaction keeps its status.
func (s *PaymentService) rejectPayment(ctx context.Context, tx models.PaymentTransaction, paymentID, kind, reason, source string) {
	details := map[string]any{"payment_id": paymentID, "reason": reason, "source": source}
	if kind == "" {
		s.log.Warn("payment attempt failed", "op", "payment_attempt_failed", "transaction_id", tx.ID,
			"payment_id", paymentID, "reason", reason, "source", source)
		s.audit(ctx, tx.ID, "attempt_failed", details)
		return
	}
	metrics.PaymentAnomalies.WithLabelValues(kind).Inc()
	s.log.Error("payment rejected", "op", "payment_rejected", "transaction_id", tx.ID,
		"payment_id", paymentID, "kind", kind, "reason", reason, "source", source)
	details["kind"] = kind
	s.audit(ctx, tx.ID, "payment_rejected", details)
}

// flagCaptureOnFailed records money taken by the gateway for a transaction
// already closed as failed. Nothing is promoted; an operator refunds it or
// settles the related record by hand.
func (s *PaymentService) flagCaptureOnFailed(ctx context.Context, tx models.PaymentTransaction, paymentID, source string) {
	metrics.PaymentAnomalies.WithLabelValues("capture_on_failed").Inc()
	s.log.Error("payment captured for failed transaction", "op", "capture_on_failed", "transaction_id", tx.ID,
		"payment_id", paymentID, "failure_reason", deref(tx.FailureReason), "source", source)
	s.audit(ctx, tx.ID, "capture_on_failed", map[string]any{"payment_id": paymentID, "source": source})
}

func paymentCompleted(p gateway.Payment) bool {
	return p.Status == gateway.PaymentCaptured || p.Status == gateway.PaymentAuthorized
}

func samePayment(tx models.PaymentTransaction, paymentID string) bool {
	return tx.GatewayPaymentID != nil && *tx.GatewayPaymentID == paymentID
}

func result(tx models.PaymentTransaction, ok bool, msg string) VerifyResult {
	return VerifyResult{Success: ok, TransactionID: tx.ID, Status: tx.Status, Message: msg}
}

// promote runs the single conditional write into success. Whoever wins
// the write performs the follow-up work; a loser re-reads the row and
// returns it unchanged. A different payment id already recorded is a
// conflict.
func (s *PaymentService) promote(ctx context.Context, tx models.PaymentTransaction, u models.SuccessUpdate, source string) (models.PaymentTransaction, error) {
	updated, err := s.txs.MarkSuccess(ctx, tx.ID, u)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNoTransition):
		cur, err := s.txs.GetByID(ctx, tx.ID)
		if err != nil {
			return tx, storeErr("reload transaction", err)
		}
		if cur.Status == models.StatusSuccess && !samePayment(cur, u.GatewayPaymentID) {
			metrics.PaymentAnomalies.WithLabelValues("second_payment").Inc()
			s.log.Error("second payment for settled transaction", "op", "payment_conflict", "transaction_id", tx.ID,
				"recorded_payment_id", deref(cur.GatewayPaymentID), "payment_id", u.GatewayPaymentID, "source", source)
			return cur, fmt.Errorf("%w: transaction %s already paid by another payment", ErrConflict, tx.ID)
		}
		s.log.Info("promotion lost to concurrent writer", "op", "promote_skipped", "transaction_id", tx.ID,
			"status", cur.Status, "source", source)
		return cur, nil
	default:
		return tx, storeErr("mark success", err)
	}

	s.log.Info("payment succeeded", "op", "payment_success", "transaction_id", updated.ID,
		"payment_id", u.GatewayPaymentID, "method", u.PaymentMethod, "source", source)
	s.audit(ctx, updated.ID, "status_change", map[string]any{
		"from": string(tx.Status), "to": string(models.StatusSuccess),
		"payment_id": u.GatewayPaymentID, "source": source,
	})
	s.applyEntityUpdate(ctx, updated)
	s.publish(updated, events.PaymentSucceeded, "")
	s.markLinkUsed(updated)
	return updated, nil
}

// fail moves a non-terminal transaction to failed. If another writer got
// there first the current row is returned unchanged.
func (s *PaymentService) fail(ctx context.Context, tx models.PaymentTransaction, reason, source string) (models.PaymentTransaction, error) {
	updated, err := s.txs.MarkFailed(ctx, tx.ID, reason)
	if errors.Is(err, repository.ErrNoTransition) {
		cur, err := s.txs.GetByID(ctx, tx.ID)
		if err != nil {
			return tx, storeErr("reload transaction", err)
		}
		return cur, nil
	}
	if err != nil {
		return tx, storeErr("mark failed", err)
	}
	s.log.Warn("payment failed", "op", "payment_failed", "transaction_id", tx.ID, "reason", reason, "source", source)
	s.audit(ctx, tx.ID, "status_change", map[string]any{
		"from": string(tx.Status), "to": string(models.StatusFailed), "reason": reason, "source": source,
	})
	s.publish(updated, events.PaymentFailed, reason)
	return updated, nil
}

// applyEntityUpdate marks the related record as paid. A failure does not
// undo the payment; it is counted and kept in the dead-letter store for
// replay.
func (s *PaymentService) applyEntityUpdate(ctx context.Context, tx models.PaymentTransaction) {
	if !tx.HasRelatedEntity() || s.entities == nil {
		return
	}
	et, id := *tx.RelatedEntityType, *tx.RelatedEntityID
	err := s.entities.UpdateRelatedEntity(ctx, et, id, tx.ID)
	if err == nil {
		return
	}
	metrics.EntityUpdateFailures.WithLabelValues(string(et)).Inc()
	s.log.Error("related entity update failed", "op", "entity_update_failed", "transaction_id", tx.ID,
		"entity_type", et, "entity_id", id, "err", err)
	if s.dead == nil {
		return
	}
	if derr := s.dead.Record(deadletter.Entry{
		TransactionID: tx.ID,
		EntityType:    string(et),
		EntityID:      id,
		LastError:     err.Error(),
		LastFailedAt:  s.now(),
	}); derr != nil {
		s.log.Error("dead letter write failed", "op", "dead_letter_failed", "transaction_id", tx.ID, "err", derr)
	}
}

// markLinkUsed closes the payment link that produced tx, if any.
func (s *PaymentService) markLinkUsed(tx models.PaymentTransaction) {
	linkID, _ := tx.Metadata[models.MetaPaymentLinkID].(string)
	if linkID == "" || s.links == nil {
		return
	}
	at := s.now()
	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.links.MarkUsed(ctx, linkID, at)
		if err != nil && !errors.Is(err, repository.ErrNoTransition) {
			s.log.Warn("payment link not marked used", "op", "link_mark_used_failed", "link_id", linkID, "transaction_id", tx.ID, "err", err)
		}
	})
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
