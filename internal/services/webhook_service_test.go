package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/cache"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func capturedWebhook(orderID, paymentID string, amountMinor int64) ([]byte, string) {
	return signedWebhook(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"amount":%d,"currency":"INR","status":"captured","order_id":%q,"method":"card"}}}}`,
		paymentID, amountMinor, orderID))
}

func signedWebhook(body string) ([]byte, string) {
	raw := []byte(body)
	return raw, gateway.Sign(testWebhookSecret, raw)
}

func TestWebhookCapturedPromotes(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, sig := capturedWebhook(order.GatewayOrderID, "pay_7", 50000)

	res, err := env.webhooks.Handle(context.Background(), body, sig, "evt_1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != "applied" || res.Status != models.StatusSuccess || res.TransactionID != order.TransactionID {
		t.Fatalf("unexpected result %+v", res)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if *tx.GatewayPaymentID != "pay_7" || tx.GatewaySignature != nil || *tx.PaymentMethod != "card" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if env.store.Event("E1").PaymentStatus != "paid" {
		t.Fatal("entity not updated from webhook")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, _ := capturedWebhook(order.GatewayOrderID, "pay_7", 50000)

	_, err := env.webhooks.Handle(context.Background(), body, "00ff", "evt_1")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if tx.Status != models.StatusPending {
		t.Fatalf("unsigned webhook changed state to %s", tx.Status)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, sig := capturedWebhook(order.GatewayOrderID, "pay_7", 50000)

	if _, err := env.webhooks.Handle(context.Background(), body, sig, "evt_1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := env.webhooks.Handle(context.Background(), body, sig, "evt_1")
	if err != nil || res.Outcome != "duplicate" {
		t.Fatalf("expected duplicate, got %+v %v", res, err)
	}
	if env.store.Writes() != 1 {
		t.Fatalf("expected one entity update, got %d", env.store.Writes())
	}
}

func TestWebhookAmountMismatchIsFlagged(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, sig := capturedWebhook(order.GatewayOrderID, "pay_7", 100)
	before := testutil.ToFloat64(metrics.PaymentAnomalies.WithLabelValues("amount_mismatch"))

	res, err := env.webhooks.Handle(context.Background(), body, sig, "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Status != models.StatusPending || res.Outcome != "unchanged" {
		t.Fatalf("expected pending and unchanged, got %+v", res)
	}
	if got := testutil.ToFloat64(metrics.PaymentAnomalies.WithLabelValues("amount_mismatch")); got != before+1 {
		t.Fatalf("anomaly not counted: %v -> %v", before, got)
	}
	if !hasAudit(env, order.TransactionID, "payment_rejected") {
		t.Fatal("rejected payment not audited")
	}
	if env.store.Writes() != 0 {
		t.Fatal("entity must not be touched")
	}
}

func TestWebhookPaymentFailedKeepsOrderOpen(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, sig := signedWebhook(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_3","amount":50000,"status":"failed","order_id":%q,"method":"card","error_description":"bank declined"}}}}`, order.GatewayOrderID))

	res, err := env.webhooks.Handle(context.Background(), body, sig, "evt_2")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if tx.Status != models.StatusPending || tx.FailureReason != nil || res.Outcome != "unchanged" {
		t.Fatalf("declined attempt must leave the transaction pending: %+v %+v", res, tx)
	}
	logs, _ := env.payments.AuditTrail(context.Background(), order.TransactionID)
	last := logs[len(logs)-1]
	if last.Action != "attempt_failed" || last.Details["payment_id"] != "pay_3" || last.Details["reason"] != "bank declined" {
		t.Fatalf("declined attempt not audited: %+v", last)
	}
}

func TestDeclinedAttemptThenCapturedRetrySucceeds(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	ctx := context.Background()

	body, sig := signedWebhook(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_a","amount":50000,"status":"failed","order_id":%q,"method":"card","error_description":"insufficient funds"}}}}`, order.GatewayOrderID))
	if _, err := env.webhooks.Handle(ctx, body, sig, "evt_a"); err != nil {
		t.Fatalf("failed attempt: %v", err)
	}

	checkoutSig := env.gw.pay(order.GatewayOrderID, "pay_b", gateway.PaymentCaptured)
	res, err := env.payments.VerifyPayment(ctx, VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID,
		GatewayPaymentID: "pay_b", Signature: checkoutSig, UserID: "U1",
	})
	if err != nil || !res.Success || res.Status != models.StatusSuccess {
		t.Fatalf("retry must verify: %+v %v", res, err)
	}
	if ev := env.store.Event("E1"); ev.PaymentStatus != "paid" || ev.TransactionID != order.TransactionID {
		t.Fatalf("event registration not marked paid: %+v", ev)
	}

	body, sig = capturedWebhook(order.GatewayOrderID, "pay_b", 50000)
	wh, err := env.webhooks.Handle(ctx, body, sig, "evt_b")
	if err != nil || wh.Outcome != "unchanged" || wh.Status != models.StatusSuccess {
		t.Fatalf("late capture webhook: %+v %v", wh, err)
	}
	tx, _ := env.payments.GetTransaction(ctx, order.TransactionID)
	if *tx.GatewayPaymentID != "pay_b" || env.store.Writes() != 1 {
		t.Fatalf("unexpected final state %+v writes=%d", tx, env.store.Writes())
	}
}

func TestCaptureOnFailedTransactionIsFlagged(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	ctx := context.Background()
	if _, err := env.payments.MarkPaymentFailed(ctx, order.TransactionID, "member cancelled", "admin-1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	before := testutil.ToFloat64(metrics.PaymentAnomalies.WithLabelValues("capture_on_failed"))

	body, sig := capturedWebhook(order.GatewayOrderID, "pay_late", 50000)
	res, err := env.webhooks.Handle(ctx, body, sig, "")
	if err != nil || res.Status != models.StatusFailed {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
	checkoutSig := env.gw.pay(order.GatewayOrderID, "pay_late", gateway.PaymentCaptured)
	vr, err := env.payments.VerifyPayment(ctx, VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID,
		GatewayPaymentID: "pay_late", Signature: checkoutSig,
	})
	if err != nil || vr.Success {
		t.Fatalf("failed transaction must not be promoted: %+v %v", vr, err)
	}

	if got := testutil.ToFloat64(metrics.PaymentAnomalies.WithLabelValues("capture_on_failed")); got != before+2 {
		t.Fatalf("expected two flagged captures, counter %v -> %v", before, got)
	}
	n := 0
	for _, a := range env.store.AuditTrail() {
		if a.TransactionID == order.TransactionID && a.Action == "capture_on_failed" && a.Details["payment_id"] == "pay_late" {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("expected two capture_on_failed audit entries, got %d", n)
	}
	if env.store.Writes() != 0 {
		t.Fatal("entity must not be touched")
	}
}

func TestWebhookFailureAfterSuccessIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, sig := capturedWebhook(order.GatewayOrderID, "pay_7", 50000)
	_, _ = env.webhooks.Handle(context.Background(), body, sig, "")

	body, sig = signedWebhook(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_8","amount":50000,"status":"failed","order_id":%q,"method":"card"}}}}`, order.GatewayOrderID))
	res, err := env.webhooks.Handle(context.Background(), body, sig, "")
	if err != nil || res.Outcome != "unchanged" || res.Status != models.StatusSuccess {
		t.Fatalf("expected unchanged success, got %+v %v", res, err)
	}
}

func TestWebhookUnknownOrderAndEventAreAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	body, sig := capturedWebhook("order_unknown", "pay_1", 100)
	res, err := env.webhooks.Handle(context.Background(), body, sig, "")
	if err != nil || res.Outcome != "ignored" {
		t.Fatalf("unknown order: %+v %v", res, err)
	}

	body, sig = signedWebhook(`{"event":"subscription.charged","payload":{}}`)
	res, err = env.webhooks.Handle(context.Background(), body, sig, "")
	if err != nil || res.Outcome != "ignored" {
		t.Fatalf("unknown event: %+v %v", res, err)
	}
}

func TestWebhookRefundIsAuditedOnly(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	body, sig := capturedWebhook(order.GatewayOrderID, "pay_7", 50000)
	_, _ = env.webhooks.Handle(context.Background(), body, sig, "")

	body, sig = signedWebhook(fmt.Sprintf(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_7","amount":50000,"status":"processed"}},"payment":{"entity":{"id":"pay_7","amount":50000,"status":"refunded","order_id":%q,"method":"card"}}}}`, order.GatewayOrderID))
	if _, err := env.webhooks.Handle(context.Background(), body, sig, ""); err != nil {
		t.Fatalf("handle: %v", err)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if tx.Status != models.StatusSuccess {
		t.Fatalf("refund must not change status, got %s", tx.Status)
	}
	found := false
	for _, a := range env.store.AuditTrail() {
		if a.Action == "refund_notified" && a.Details["refund_id"] == "rfnd_1" {
			found = true
		}
	}
	if !found {
		t.Fatal("refund not recorded in audit log")
	}
}

func hasAudit(env *testEnv, txID, action string) bool {
	for _, a := range env.store.AuditTrail() {
		if a.TransactionID == txID && a.Action == action {
			return true
		}
	}
	return false
}

// recordingDeduper wraps the memory deduper and records confirmations.
type recordingDeduper struct {
	*cache.MemoryDeduper
	mu        sync.Mutex
	done      []string
	forgotten []string
}

func (d *recordingDeduper) Done(ctx context.Context, id string) error {
	d.mu.Lock()
	d.done = append(d.done, id)
	d.mu.Unlock()
	return d.MemoryDeduper.Done(ctx, id)
}

func (d *recordingDeduper) Forget(ctx context.Context, id string) error {
	d.mu.Lock()
	d.forgotten = append(d.forgotten, id)
	d.mu.Unlock()
	return d.MemoryDeduper.Forget(ctx, id)
}

func TestWebhookConfirmsDeliveryOnlyAfterApply(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	dedup := &recordingDeduper{MemoryDeduper: cache.NewMemoryDeduper(time.Hour)}
	hooks := NewWebhookService(env.payments, env.gw, dedup, quietLogger())

	env.store.FailTransactions = errors.New("connection refused")
	body, sig := capturedWebhook(order.GatewayOrderID, "pay_7", 50000)
	if _, err := hooks.Handle(context.Background(), body, sig, "evt_9"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(dedup.done) != 0 || len(dedup.forgotten) != 1 {
		t.Fatalf("failed delivery must be released, not confirmed: done=%v forgotten=%v", dedup.done, dedup.forgotten)
	}

	env.store.FailTransactions = nil
	res, err := hooks.Handle(context.Background(), body, sig, "evt_9")
	if err != nil || res.Outcome != "applied" {
		t.Fatalf("redelivery: %+v %v", res, err)
	}
	if len(dedup.done) != 1 || dedup.done[0] != "evt_9" {
		t.Fatalf("applied delivery not confirmed: %v", dedup.done)
	}
}
