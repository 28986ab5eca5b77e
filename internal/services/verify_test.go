package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/events"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
)

func TestVerifyPaymentHappyPath(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)

	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID:    order.TransactionID,
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        sig,
		UserID:           "U1",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Success || res.Status != models.StatusSuccess {
		t.Fatalf("unexpected result %+v", res)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if tx.CompletedAt == nil || *tx.GatewayPaymentID != "pay_1" || *tx.PaymentMethod != "upi" || *tx.GatewaySignature != sig {
		t.Fatalf("success fields not written: %+v", tx)
	}
	ev := env.store.Event("E1")
	if ev.PaymentStatus != "paid" || ev.TransactionID != tx.ID || !ev.RegistrationConfirmed {
		t.Fatalf("event registration not updated: %+v", ev)
	}
	if got := env.pub.types(); len(got) != 1 || got[0] != events.PaymentSucceeded {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestVerifyPaymentTamperedSignatureFails(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID:    order.TransactionID,
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        string(flipped),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Success || res.Status != models.StatusFailed {
		t.Fatalf("expected failed result, got %+v", res)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if tx.FailureReason == nil || *tx.FailureReason != "invalid signature" || tx.GatewayPaymentID != nil {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if env.store.Event("E1").PaymentStatus != "unpaid" || env.store.Writes() != 0 {
		t.Fatal("entity must not change on a rejected signature")
	}
	if env.gw.fetches() != 0 {
		t.Fatal("gateway must not be called after a signature mismatch")
	}
}

func TestVerifyPaymentUnknownTransactionRejectedFirst(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID:    "missing",
		GatewayOrderID:   "order_x",
		GatewayPaymentID: "pay_x",
		Signature:        "deadbeef",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if env.gw.fetches() != 0 {
		t.Fatal("no gateway call for an unknown transaction")
	}
}

func TestMalformedTransactionIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailTransactions = errors.New("store must not be queried")
	ctx := context.Background()

	if _, err := env.payments.GetTransaction(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	_, err := env.payments.VerifyPayment(ctx, VerifyInput{
		TransactionID: "abc", GatewayOrderID: "order_x", GatewayPaymentID: "pay_x", Signature: "deadbeef",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("verify: expected ErrNotFound, got %v", err)
	}
	if _, err := env.payments.MarkPaymentFailed(ctx, "abc", "stuck", "ops"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark failed: expected ErrNotFound, got %v", err)
	}
}

func TestVerifyPaymentForgedOrderID(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	// A signature that is valid, but for an order the caller controls.
	forged := gateway.Sign(testKeySecret, gateway.PaymentSignaturePayload("order_attacker", "pay_9"))

	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID:    order.TransactionID,
		GatewayOrderID:   "order_attacker",
		GatewayPaymentID: "pay_9",
		Signature:        forged,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Success || res.Status != models.StatusFailed {
		t.Fatalf("forged callback must fail the transaction, got %+v", res)
	}
}

func TestVerifyPaymentForbiddenForOtherUser(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	_, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID,
		GatewayPaymentID: "pay_1", Signature: sig, UserID: "someone-else",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestVerifyPaymentTwiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	in := VerifyInput{TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig}

	first, err := env.payments.VerifyPayment(context.Background(), in)
	if err != nil || !first.Success {
		t.Fatalf("first verify: %+v %v", first, err)
	}
	tx1, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)

	second, err := env.payments.VerifyPayment(context.Background(), in)
	if err != nil || !second.Success {
		t.Fatalf("second verify: %+v %v", second, err)
	}
	tx2, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if !tx1.CompletedAt.Equal(*tx2.CompletedAt) {
		t.Fatal("completed_at changed on repeat verify")
	}
	if env.store.Writes() != 1 {
		t.Fatalf("expected one entity update, got %d", env.store.Writes())
	}
}

func TestVerifyPaymentKeepsFirstPaymentID(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	_, _ = env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig,
	})

	sig2 := env.gw.pay(order.GatewayOrderID, "pay_2", gateway.PaymentCaptured)
	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_2", Signature: sig2,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Success {
		t.Fatal("a second payment must not be accepted")
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if *tx.GatewayPaymentID != "pay_1" || tx.Status != models.StatusSuccess {
		t.Fatalf("payment id changed: %+v", tx)
	}
}

func TestVerifyPaymentAmountMismatchIsRejected(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	p := env.gw.payments["pay_1"]
	p.Amount = 100
	env.gw.payments["pay_1"] = p

	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Success || res.Status != models.StatusPending {
		t.Fatalf("expected rejection with order left open, got %+v", res)
	}
	if !hasAudit(env, order.TransactionID, "payment_rejected") {
		t.Fatal("expected payment_rejected audit entry")
	}
}

func TestVerifyPaymentFailedAtGatewayKeepsOrderOpen(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentFailed)
	p := env.gw.payments["pay_1"]
	p.ErrorDescription = "card declined"
	env.gw.payments["pay_1"] = p

	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if res.Success || tx.Status != models.StatusPending || tx.FailureReason != nil {
		t.Fatalf("unexpected outcome %+v / %+v", res, tx)
	}
	if !hasAudit(env, order.TransactionID, "attempt_failed") {
		t.Fatal("expected attempt_failed audit entry")
	}

	sig = env.gw.pay(order.GatewayOrderID, "pay_2", gateway.PaymentCaptured)
	res, err = env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_2", Signature: sig,
	})
	if err != nil || !res.Success || res.Status != models.StatusSuccess {
		t.Fatalf("retry: %+v %v", res, err)
	}
}

func TestVerifyPaymentGatewayErrorKeepsPending(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	env.gw.fetchErr = errors.New("connection reset")

	_, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig,
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
	if tx.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
}

func TestEntityUpdateFailureIsDeadLettered(t *testing.T) {
	env := newTestEnv(t)
	order := env.eventOrder(t)
	sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
	env.store.FailEntities = errors.New("event_registrations unavailable")

	res, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
		TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig,
	})
	if err != nil || !res.Success {
		t.Fatalf("payment must succeed despite entity failure: %+v %v", res, err)
	}
	items, _ := env.payments.ListDeadLetters()
	if len(items) != 1 || items[0].TransactionID != order.TransactionID || items[0].EntityID != "E1" {
		t.Fatalf("unexpected dead letters %+v", items)
	}

	env.store.FailEntities = nil
	rep, err := env.payments.ReplayDeadLetters(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(rep.Replayed) != 1 || env.store.Event("E1").PaymentStatus != "paid" {
		t.Fatalf("replay did not apply: %+v", rep)
	}
	if items, _ := env.payments.ListDeadLetters(); len(items) != 0 {
		t.Fatalf("dead letter not removed: %+v", items)
	}
}

func TestVerifyAndWebhookRace(t *testing.T) {
	for round := 0; round < 20; round++ {
		env := newTestEnv(t)
		order := env.eventOrder(t)
		sig := env.gw.pay(order.GatewayOrderID, "pay_1", gateway.PaymentCaptured)
		body, whSig := capturedWebhook(order.GatewayOrderID, "pay_1", 50000)

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for i := 0; i < 2; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := env.payments.VerifyPayment(context.Background(), VerifyInput{
					TransactionID: order.TransactionID, GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay_1", Signature: sig,
				})
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := env.webhooks.Handle(context.Background(), body, whSig, "")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: %v", round, err)
			}
		}
		tx, _ := env.payments.GetTransaction(context.Background(), order.TransactionID)
		if tx.Status != models.StatusSuccess || tx.CompletedAt == nil {
			t.Fatalf("round %d: unexpected transaction %+v", round, tx)
		}
		if env.store.Writes() != 1 {
			t.Fatalf("round %d: expected one entity update, got %d", round, env.store.Writes())
		}
		if n := len(env.pub.types()); n != 1 {
			t.Fatalf("round %d: expected one event, got %d", round, n)
		}
	}
}
