package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/events"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentOptions struct {
	DefaultCurrency string
	ReceiptPrefix   string
	Mode            string
}

type PaymentDeps struct {
	Transactions repository.Transactions
	AuditLogs    repository.AuditLogs
	PaymentLinks repository.PaymentLinks
	Gateway      Gateway
	Entities     *EntityUpdater
	DeadLetters  DeadLetters
	Publisher    events.Publisher // optional, defaults to logging
	Pool         Submitter        // optional, defaults to running inline
	Logger       *slog.Logger
}

// PaymentService owns the transaction lifecycle: order creation,
// verification, promotion to a terminal state and the follow-up work.
type PaymentService struct {
	txs      repository.Transactions
	audits   repository.AuditLogs
	links    repository.PaymentLinks
	gw       Gateway
	entities *EntityUpdater
	dead     DeadLetters
	pub      events.Publisher
	pool     Submitter
	log      *slog.Logger
	opts     PaymentOptions
	now      func() time.Time
}

func NewPaymentService(d PaymentDeps, o PaymentOptions) *PaymentService {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.NewLogPublisher(d.Logger)
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = "INR"
	}
	if o.ReceiptPrefix == "" {
		o.ReceiptPrefix = "BGHS"
	}
	if o.Mode == "" {
		o.Mode = "test"
	}
	return &PaymentService{
		txs:      d.Transactions,
		audits:   d.AuditLogs,
		links:    d.PaymentLinks,
		gw:       d.Gateway,
		entities: d.Entities,
		dead:     d.DeadLetters,
		pub:      d.Publisher,
		pool:     d.Pool,
		log:      d.Logger.With("component", "payments", "mode", o.Mode),
		opts:     o,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateOrderInput struct {
	UserID            string
	Amount            decimal.Decimal
	Currency          string
	RelatedEntityType models.EntityType
	RelatedEntityID   string
	PaymentConfigID   string
	Metadata          map[string]any
}

type CreateOrderResult struct {
	TransactionID  string          `json:"transaction_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	GatewayKeyID   string          `json:"gateway_key_id"`
	ReceiptID      string          `json:"receipt_id"`
}

func (in CreateOrderInput) validate() error {
	var errs validate.Errs
	errs.Add(
		validate.Required("user_id", in.UserID),
		validate.PositiveAmount("amount", in.Amount),
		validate.CurrencyCode("currency", in.Currency),
	)
	hasType, hasID := in.RelatedEntityType != "", strings.TrimSpace(in.RelatedEntityID) != ""
	switch {
	case hasType != hasID:
		errs.Add(&validate.ErrField{Field: "related_entity", Msg: "type and id must be given together"})
	case hasType && !in.RelatedEntityType.Valid():
		errs.Add(validate.OneOf("related_entity_type", string(in.RelatedEntityType),
			string(models.EntityEvent), string(models.EntityRegistration), string(models.EntityDonation)))
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// CreatePaymentOrder records an initiated transaction, opens a gateway order
// for it and moves it to pending. A gateway failure leaves the row
// initiated; a failure to attach the order id is logged with the orphaned
// order so the reconcile command can recover it.
func (s *PaymentService) CreatePaymentOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if in.Currency == "" {
		in.Currency = s.opts.DefaultCurrency
	}
	if err := in.validate(); err != nil {
		return CreateOrderResult{}, err
	}

	receipt, err := s.newReceiptID()
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: receipt id: %v", ErrPersistence, err)
	}
	meta := map[string]any{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta[models.MetaReceiptID] = receipt

	tx := models.PaymentTransaction{
		ID:       uuid.NewString(),
		UserID:   in.UserID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Status:   models.StatusInitiated,
		Metadata: meta,
	}
	if in.RelatedEntityType != "" {
		et, id := in.RelatedEntityType, in.RelatedEntityID
		tx.RelatedEntityType, tx.RelatedEntityID = &et, &id
	}
	if in.PaymentConfigID != "" {
		pc := in.PaymentConfigID
		tx.PaymentConfigID = &pc
	}

	log := s.log.With("transaction_id", tx.ID, "receipt", receipt)
	tx, err = s.txs.Create(ctx, tx)
	if err != nil {
		log.Error("transaction insert failed", "op", "transaction_create_failed", "err", err)
		metrics.OrdersCreated.WithLabelValues("persist_error").Inc()
		return CreateOrderResult{}, fmt.Errorf("%w: create transaction: %v", ErrPersistence, err)
	}
	s.audit(ctx, tx.ID, "created", map[string]any{"amount": tx.Amount.StringFixed(2), "currency": tx.Currency})

	notes := gateway.Notes{"transaction_id": tx.ID, "user_id": tx.UserID}
	if tx.HasRelatedEntity() {
		notes["entity_type"] = string(*tx.RelatedEntityType)
		notes["entity_id"] = *tx.RelatedEntityID
	}
	order, err := s.gw.CreateOrder(ctx, gateway.OrderRequest{
		AmountMinor: gateway.ToMinor(tx.Amount),
		Currency:    tx.Currency,
		Receipt:     receipt,
		Notes:       notes,
	})
	if err != nil {
		log.Error("gateway order failed", "op", "order_creation_failed", "err", err)
		metrics.OrdersCreated.WithLabelValues("gateway_error").Inc()
		return CreateOrderResult{}, fmt.Errorf("%w: create order: %v", ErrGateway, err)
	}

	tx, err = s.txs.AttachOrder(ctx, tx.ID, order.ID)
	if err != nil {
		log.Error("gateway order orphaned", "op", "order_attach_failed", "gateway_order_id", order.ID, "err", err)
		metrics.OrdersCreated.WithLabelValues("persist_error").Inc()
		return CreateOrderResult{}, fmt.Errorf("%w: attach order %s: %v", ErrPersistence, order.ID, err)
	}
	s.audit(ctx, tx.ID, "order_created", map[string]any{"gateway_order_id": order.ID})
	metrics.OrdersCreated.WithLabelValues("created").Inc()
	log.Info("payment order created", "op", "order_created", "gateway_order_id", order.ID, "amount", tx.Amount.StringFixed(2))

	return CreateOrderResult{
		TransactionID:  tx.ID,
		GatewayOrderID: order.ID,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		GatewayKeyID:   s.gw.KeyID(),
		ReceiptID:      receipt,
	}, nil
}

const receiptAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newReceiptID returns "<prefix>-YYYYMMDD-XXXXXX".
func (s *PaymentService) newReceiptID() (string, error) {
	var b strings.Builder
	b.WriteString(s.opts.ReceiptPrefix)
	b.WriteString("-")
	b.WriteString(s.now().Format("20060102"))
	b.WriteString("-")
	base := big.NewInt(int64(len(receiptAlphabet)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(receiptAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// audit writes an audit entry. A failed write is logged and otherwise
// ignored; it never changes the outcome of a payment operation.
func (s *PaymentService) audit(ctx context.Context, txID, action string, details map[string]any) {
	err := s.audits.Create(ctx, models.AuditLog{TransactionID: txID, Action: action, Details: details})
	if err != nil {
		s.log.Warn("audit write failed", "op", "audit_failed", "transaction_id", txID, "action", action, "err", err)
	}
}

// background runs f on the worker pool, or inline without one.
func (s *PaymentService) background(f func()) {
	if s.pool == nil {
		f()
		return
	}
	s.pool.Submit(f)
}

func (s *PaymentService) publish(tx models.PaymentTransaction, eventType, reason string) {
	e := events.PaymentEvent{
		Type:          eventType,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Reason:        reason,
		OccurredAt:    s.now(),
	}
	if tx.GatewayOrderID != nil {
		e.GatewayOrderID = *tx.GatewayOrderID
	}
	if tx.GatewayPaymentID != nil {
		e.GatewayPaymentID = *tx.GatewayPaymentID
	}
	if tx.HasRelatedEntity() {
		e.RelatedEntityType = string(*tx.RelatedEntityType)
		e.RelatedEntityID = *tx.RelatedEntityID
	}
	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.pub.Publish(ctx, e); err != nil {
			s.log.Warn("event publish failed", "op", "event_publish_failed", "transaction_id", tx.ID, "type", eventType, "err", err)
		}
	})
}

// storeErr maps repository errors onto service errors.
// validID reports whether id can name a stored row. Ids are uuids, and
// anything else is unknown rather than a store failure.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
