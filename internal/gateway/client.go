package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
)

const defaultBaseURL = "https://api.razorpay.com"

// Client talks to the Razorpay REST API. It keeps no state beyond
// credentials, so one instance is shared by all requests.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	timeout       time.Duration
	http          *http.Client
	log           *slog.Logger
}

type Options struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Mode          string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

func New(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	mode := strings.ToUpper(o.Mode)
	if mode == "" {
		mode = "TEST"
	}
	c := &Client{
		baseURL:       strings.TrimRight(o.BaseURL, "/"),
		keyID:         o.KeyID,
		keySecret:     o.KeySecret,
		webhookSecret: o.WebhookSecret,
		timeout:       o.Timeout,
		http:          o.HTTPClient,
		log:           o.Logger.With("component", "gateway", "mode", mode),
	}
	c.log.Info("gateway client ready", "op", "razorpay_init", "key_id_prefix", prefix(o.KeyID, 12))
	return c
}

// KeyID is the public key handed to the browser checkout widget.
func (c *Client) KeyID() string { return c.keyID }

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Notes == nil {
		req.Notes = Notes{}
	}
	c.log.Info("create order", "op", "create_order", "amount_minor", req.AmountMinor, "currency", req.Currency, "receipt", req.Receipt)
	var o Order
	if err := c.do(ctx, "create_order", http.MethodPost, "/v1/orders", req, &o); err != nil {
		c.log.Error("order creation failed", "op", "order_creation_failed", "receipt", req.Receipt, "err", err)
		return Order{}, err
	}
	if err := o.validate(); err != nil {
		return Order{}, err
	}
	c.log.Info("order created", "op", "order_created", "order_id", o.ID, "status", o.Status)
	return o, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var p Payment
	if err := c.do(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &p); err != nil {
		c.log.Error("payment fetch failed", "op", "payment_fetch_failed", "payment_id", paymentID, "err", err)
		return Payment{}, err
	}
	if err := p.validate(); err != nil {
		return Payment{}, err
	}
	c.log.Info("payment fetched", "op", "payment_fetched", "payment_id", p.ID, "status", p.Status, "method", p.Method)
	return p, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	if err := c.do(ctx, "fetch_order", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		c.log.Error("order fetch failed", "op", "order_fetch_failed", "order_id", orderID, "err", err)
		return Order{}, err
	}
	if err := o.validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// OrdersByReceipt finds gateway orders tagged with a receipt id; used to
// recover orders whose id never reached the local store.
func (c *Client) OrdersByReceipt(ctx context.Context, receipt string) ([]Order, error) {
	var out orderList
	if err := c.do(ctx, "orders_by_receipt", http.MethodGet, "/v1/orders?receipt="+url.QueryEscape(receipt), nil, &out); err != nil {
		return nil, err
	}
	for _, o := range out.Items {
		if err := o.validate(); err != nil {
			return nil, err
		}
	}
	return out.Items, nil
}

// Refund refunds a captured payment. A nil amount refunds in full.
func (c *Client) Refund(ctx context.Context, paymentID string, amountMinor *int64) (Refund, error) {
	body := map[string]any{}
	if amountMinor != nil {
		body["amount"] = *amountMinor
	}
	var r Refund
	if err := c.do(ctx, "refund", http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", body, &r); err != nil {
		c.log.Error("refund failed", "op", "refund_failed", "payment_id", paymentID, "err", err)
		return Refund{}, err
	}
	if err := r.validate(); err != nil {
		return Refund{}, err
	}
	c.log.Info("refund initiated", "op", "refund_initiated", "payment_id", paymentID, "refund_id", r.ID, "amount_minor", r.Amount)
	return r, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func(start time.Time) {
		metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}(time.Now())

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway %s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Description = env.Error.Description
		}
		return apiErr
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
