package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/cache"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
)

// WebhookService reconciles transactions from gateway deliveries. It uses
// the same conditional writes as VerifyPayment, so a webhook racing a
// client callback produces one success and one entity update.
type WebhookService struct {
	payments *PaymentService
	gw       Gateway
	dedup    cache.Deduper
	log      *slog.Logger
}

func NewWebhookService(p *PaymentService, gw Gateway, dedup cache.Deduper, log *slog.Logger) *WebhookService {
	return &WebhookService{payments: p, gw: gw, dedup: dedup, log: log.With("component", "webhook")}
}

type WebhookResult struct {
	Event         string               `json:"event"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Status        models.PaymentStatus `json:"payment_status,omitempty"`
	Outcome       string               `json:"outcome"` // applied|unchanged|duplicate|ignored
}

// Handle authenticates rawBody against the signature header, drops
// replayed deliveries and applies the event. Unknown events and unknown
// orders are acknowledged; only transient failures return an error so the
// gateway retries.
func (w *WebhookService) Handle(ctx context.Context, rawBody []byte, signature, eventID string) (WebhookResult, error) {
	if !w.gw.VerifyWebhookSignature(rawBody, signature) {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		w.log.Warn("webhook signature rejected", "op", "webhook_invalid_signature", "event_id", eventID)
		return WebhookResult{}, ErrInvalidSignature
	}
	ev, err := gateway.ParseWebhookEvent(rawBody)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	log := w.log.With("event", ev.Event, "event_id", eventID)

	if eventID != "" && w.dedup != nil {
		seen, err := w.dedup.Seen(ctx, eventID)
		if err != nil {
			log.Warn("dedup lookup failed, processing anyway", "op", "webhook_dedup_failed", "err", err)
		} else if seen {
			metrics.WebhookEvents.WithLabelValues(ev.Event, "duplicate").Inc()
			log.Info("duplicate delivery", "op", "webhook_duplicate")
			return WebhookResult{Event: ev.Event, Outcome: "duplicate"}, nil
		}
	}

	res, err := w.apply(ctx, ev, log)
	if err != nil {
		if eventID != "" && w.dedup != nil {
			if ferr := w.dedup.Forget(ctx, eventID); ferr != nil {
				log.Warn("dedup release failed", "op", "webhook_dedup_failed", "err", ferr)
			}
		}
		metrics.WebhookEvents.WithLabelValues(ev.Event, "error").Inc()
		return WebhookResult{}, err
	}
	if eventID != "" && w.dedup != nil {
		if derr := w.dedup.Done(ctx, eventID); derr != nil {
			log.Warn("dedup confirm failed", "op", "webhook_dedup_failed", "err", derr)
		}
	}
	metrics.WebhookEvents.WithLabelValues(ev.Event, res.Outcome).Inc()
	return res, nil
}

func (w *WebhookService) apply(ctx context.Context, ev gateway.WebhookEvent, log *slog.Logger) (WebhookResult, error) {
	res := WebhookResult{Event: ev.Event, Outcome: "ignored"}
	switch ev.Event {
	case gateway.EventPaymentCaptured, gateway.EventPaymentAuthorized, gateway.EventOrderPaid,
		gateway.EventPaymentFailed,
		gateway.EventRefundCreated, gateway.EventRefundProcessed, gateway.EventPaymentRefunded:
	default:
		log.Info("unhandled webhook event", "op", "webhook_ignored")
		return res, nil
	}

	orderID := ev.OrderID()
	if orderID == "" {
		log.Warn("webhook without order id", "op", "webhook_ignored")
		return res, nil
	}
	tx, err := w.payments.txs.GetByGatewayOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("webhook for unknown order", "op", "webhook_ignored", "gateway_order_id", orderID)
		return res, nil
	}
	if err != nil {
		return res, storeErr("load transaction by order", err)
	}
	res.TransactionID = tx.ID
	log = log.With("transaction_id", tx.ID)

	before := tx.Status
	switch ev.Event {
	case gateway.EventPaymentCaptured, gateway.EventPaymentAuthorized, gateway.EventOrderPaid:
		tx, err = w.capture(ctx, tx, ev, log)
	case gateway.EventPaymentFailed:
		// A declined attempt does not close the order; the customer may
		// retry and pay on it.
		reason, paymentID := "payment failed at gateway", ""
		if ev.Payment != nil {
			paymentID = ev.Payment.ID
			if ev.Payment.ErrorDescription != "" {
				reason = ev.Payment.ErrorDescription
			}
		}
		if tx.Status.Terminal() {
			log.Info("failure event for settled transaction", "op", "webhook_unchanged", "status", tx.Status)
			break
		}
		w.payments.rejectPayment(ctx, tx, paymentID, "", reason, "webhook")
	default:
		details := map[string]any{"event": ev.Event}
		if ev.Refund != nil {
			details["refund_id"] = ev.Refund.ID
			details["amount_minor"] = ev.Refund.Amount
			details["refund_status"] = ev.Refund.Status
		}
		w.payments.audit(ctx, tx.ID, "refund_notified", details)
		log.Info("refund notification recorded", "op", "webhook_refund")
	}
	if err != nil {
		return res, err
	}
	res.Status = tx.Status
	if tx.Status != before {
		res.Outcome = "applied"
	} else {
		res.Outcome = "unchanged"
	}
	return res, nil
}

// capture promotes tx from a captured/authorized/paid event after the same
// amount check VerifyPayment applies.
func (w *WebhookService) capture(ctx context.Context, tx models.PaymentTransaction, ev gateway.WebhookEvent, log *slog.Logger) (models.PaymentTransaction, error) {
	if ev.Payment == nil {
		log.Warn("paid event without payment entity", "op", "webhook_unchanged")
		return tx, nil
	}
	switch {
	case tx.Status == models.StatusFailed:
		w.payments.flagCaptureOnFailed(ctx, tx, ev.Payment.ID, "webhook")
		return tx, nil
	case tx.Status == models.StatusSuccess:
		if !samePayment(tx, ev.Payment.ID) {
			metrics.PaymentAnomalies.WithLabelValues("second_payment").Inc()
			log.Error("second payment for settled transaction", "op", "payment_conflict",
				"recorded_payment_id", deref(tx.GatewayPaymentID), "payment_id", ev.Payment.ID)
		}
		return tx, nil
	}
	if kind, reason := w.payments.checkPayment(tx, *ev.Payment); reason != "" {
		w.payments.rejectPayment(ctx, tx, ev.Payment.ID, kind, reason, "webhook")
		return tx, nil
	}
	tx, err := w.payments.promote(ctx, tx, models.SuccessUpdate{
		GatewayPaymentID: ev.Payment.ID,
		PaymentMethod:    ev.Payment.Method,
		CompletedAt:      w.payments.now(),
	}, "webhook")
	if errors.Is(err, ErrConflict) {
		// acknowledged: retrying the delivery cannot resolve it
		return tx, nil
	}
	return tx, err
}
