package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/shopspring/decimal"
)

var receiptPattern = regexp.MustCompile(`^BGHS-\d{8}-[0-9A-Z]{6}$`)

func TestCreatePaymentOrder(t *testing.T) {
	env := newTestEnv(t)
	res := env.eventOrder(t)

	if res.GatewayKeyID != "rzp_test_key" || res.Currency != "INR" || !res.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected result %+v", res)
	}
	if !receiptPattern.MatchString(res.ReceiptID) {
		t.Fatalf("unexpected receipt id %q", res.ReceiptID)
	}
	order := env.gw.orders[res.GatewayOrderID]
	if order.Amount != 50000 || order.Notes["transaction_id"] != res.TransactionID || order.Notes["entity_id"] != "E1" {
		t.Fatalf("unexpected gateway order %+v", order)
	}
	tx, err := env.payments.GetTransaction(context.Background(), res.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.Status != models.StatusPending || *tx.GatewayOrderID != res.GatewayOrderID || tx.ReceiptID() != res.ReceiptID {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestCreatePaymentOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]CreateOrderInput{
		"zero amount":     {UserID: "U1", Amount: decimal.Zero},
		"missing user":    {Amount: decimal.NewFromInt(10)},
		"type without id": {UserID: "U1", Amount: decimal.NewFromInt(10), RelatedEntityType: "event"},
		"unknown type":    {UserID: "U1", Amount: decimal.NewFromInt(10), RelatedEntityType: "raffle", RelatedEntityID: "R1"},
		"bad currency":    {UserID: "U1", Amount: decimal.NewFromInt(10), Currency: "rupees"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.payments.CreatePaymentOrder(context.Background(), in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var fields validate.Errs
			if !errors.As(err, &fields) || len(fields) == 0 {
				t.Fatalf("expected field errors, got %v", err)
			}
		})
	}
	if len(env.gw.orders) != 0 {
		t.Fatal("no gateway order may be created for invalid input")
	}
}

func TestCreatePaymentOrderGatewayFailureLeavesInitiated(t *testing.T) {
	env := newTestEnv(t)
	env.gw.createOrderFn = func(gateway.OrderRequest) (gateway.Order, error) {
		return gateway.Order{}, &gateway.APIError{StatusCode: 500, Code: "SERVER_ERROR"}
	}
	_, err := env.payments.CreatePaymentOrder(context.Background(), CreateOrderInput{UserID: "U1", Amount: decimal.NewFromInt(100)})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	page, _ := env.payments.History(context.Background(), "U1", 1, 0)
	if page.Total != 1 || page.Items[0].Status != models.StatusInitiated || page.Items[0].GatewayOrderID != nil {
		t.Fatalf("expected one initiated transaction, got %+v", page)
	}
}

func TestReceiptIDsAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := env.payments.newReceiptID()
		if err != nil {
			t.Fatalf("receipt: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate receipt %s", id)
		}
		seen[id] = true
	}
}
