package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/cache"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/deadletter"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/events"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository/memory"
	"github.com/shopspring/decimal"
)

const (
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "webhook_secret_test"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeGateway answers gateway calls from in-memory state. Signature checks
// go through a real client so the HMAC code is exercised.
type fakeGateway struct {
	signer *gateway.Client

	mu            sync.Mutex
	seq           int
	orders        map[string]gateway.Order
	payments      map[string]gateway.Payment
	fetchCalls    int
	createOrderFn func(req gateway.OrderRequest) (gateway.Order, error)
	fetchErr      error
	refundFn      func(paymentID string, amountMinor *int64) (gateway.Refund, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		signer: gateway.New(gateway.Options{
			KeyID:         "rzp_test_key",
			KeySecret:     testKeySecret,
			WebhookSecret: testWebhookSecret,
			Logger:        quietLogger(),
		}),
		orders:   map[string]gateway.Order{},
		payments: map[string]gateway.Payment{},
	}
}

func (f *fakeGateway) KeyID() string { return "rzp_test_key" }

func (f *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	if f.createOrderFn != nil {
		return f.createOrderFn(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	o := gateway.Order{
		ID:        fmt.Sprintf("order_%d", f.seq),
		Amount:    req.AmountMinor,
		AmountDue: req.AmountMinor,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		Notes:     req.Notes,
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeGateway) FetchPayment(_ context.Context, id string) (gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return gateway.Payment{}, f.fetchErr
	}
	p, ok := f.payments[id]
	if !ok {
		return gateway.Payment{}, &gateway.APIError{StatusCode: 404, Code: "BAD_REQUEST_ERROR", Description: "not found"}
	}
	return p, nil
}

func (f *fakeGateway) FetchOrder(_ context.Context, id string) (gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return gateway.Order{}, &gateway.APIError{StatusCode: 404, Code: "BAD_REQUEST_ERROR", Description: "not found"}
	}
	return o, nil
}

func (f *fakeGateway) OrdersByReceipt(_ context.Context, receipt string) ([]gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gateway.Order
	for _, o := range f.orders {
		if o.Receipt == receipt {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeGateway) Refund(_ context.Context, paymentID string, amountMinor *int64) (gateway.Refund, error) {
	if f.refundFn != nil {
		return f.refundFn(paymentID, amountMinor)
	}
	return gateway.Refund{}, errors.New("refund not stubbed")
}

func (f *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return f.signer.VerifyPaymentSignature(orderID, paymentID, signature)
}

func (f *fakeGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return f.signer.VerifyWebhookSignature(rawBody, signature)
}

// pay records a payment at the gateway for order and returns its callback
// signature.
func (f *fakeGateway) pay(orderID, paymentID, status string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	f.payments[paymentID] = gateway.Payment{
		ID:       paymentID,
		Amount:   o.Amount,
		Currency: o.Currency,
		Status:   status,
		OrderID:  orderID,
		Method:   "upi",
	}
	if status == gateway.PaymentCaptured {
		o.Status, o.AmountPaid, o.AmountDue = "paid", o.Amount, 0
		f.orders[orderID] = o
	}
	return gateway.Sign(testKeySecret, gateway.PaymentSignaturePayload(orderID, paymentID))
}

func (f *fakeGateway) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store    *memory.Store
	gw       *fakeGateway
	dead     *deadletter.Store
	pub      *recordingPublisher
	payments *PaymentService
	webhooks *WebhookService
	links    *PaymentLinkService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	gw := newFakeGateway()
	dead, err := deadletter.Open(filepath.Join(t.TempDir(), "dead.db"), time.Second)
	if err != nil {
		t.Fatalf("open dead letters: %v", err)
	}
	t.Cleanup(func() { dead.Close() })
	pub := &recordingPublisher{}
	log := quietLogger()

	payments := NewPaymentService(PaymentDeps{
		Transactions: store,
		AuditLogs:    store.Audit(),
		PaymentLinks: store.Links(),
		Gateway:      gw,
		Entities:     NewEntityUpdater(store, log),
		DeadLetters:  dead,
		Publisher:    pub,
		Logger:       log,
	}, PaymentOptions{DefaultCurrency: "INR", ReceiptPrefix: "BGHS", Mode: "test"})

	return &testEnv{
		store:    store,
		gw:       gw,
		dead:     dead,
		pub:      pub,
		payments: payments,
		webhooks: NewWebhookService(payments, gw, cache.NewMemoryDeduper(time.Hour), log),
		links:    NewPaymentLinkService(store.Links(), store, payments, 72*time.Hour, "https://alumni.example/", log),
	}
}

// eventOrder creates a 500 INR order for event registration E1.
func (e *testEnv) eventOrder(t *testing.T) CreateOrderResult {
	t.Helper()
	e.store.AddEvent("E1")
	res, err := e.payments.CreatePaymentOrder(context.Background(), CreateOrderInput{
		UserID:            "U1",
		Amount:            decimal.NewFromInt(500),
		RelatedEntityType: "event",
		RelatedEntityID:   "E1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res
}

func deadletterEntry(txID string) deadletter.Entry {
	return deadletter.Entry{TransactionID: txID, EntityType: "event", EntityID: "E1", LastError: "boom"}
}
