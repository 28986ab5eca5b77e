package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Payments
	OrdersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_orders_created_total",
			Help: "Gateway orders created, by outcome",
		},
		[]string{"outcome"}, // created|gateway_error|persist_error
	)
	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment verification attempts, by result",
		},
		[]string{"result"}, // success|idempotent|invalid_signature|mismatch|gateway_failed|conflict
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook deliveries, by event and result",
		},
		[]string{"event", "result"},
	)
	EntityUpdateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_entity_update_failures_total",
			Help: "Related entity updates that failed after a successful payment",
		},
		[]string{"entity_type"},
	)
	PaymentAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_anomalies_total",
			Help: "Gateway payments left for operator review, by kind",
		},
		[]string{"kind"}, // capture_on_failed|second_payment|amount_mismatch|order_mismatch
	)
	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_seconds",
			Help:    "Gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(OrdersCreated)
	prometheus.MustRegister(Verifications)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(EntityUpdateFailures)
	prometheus.MustRegister(PaymentAnomalies)
	prometheus.MustRegister(GatewayLatency)
	prometheus.MustRegister(WorkerQueueDepth)
}
