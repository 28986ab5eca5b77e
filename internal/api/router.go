package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/handlers"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/auth"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/config"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/middleware"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
)

type RouterDeps struct {
	Cfg      config.Config
	TM       *auth.TokenManager
	Payments *services.PaymentService
	Webhooks *services.WebhookService
	Links    *services.PaymentLinkService
	// Ready reports whether backing stores are reachable; nil means always.
	Ready func(r *http.Request) error
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(req); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": d.Cfg.Gateway.Mode})
	})
	r.Handle("/metrics", promhttp.Handler())

	am := middleware.NewAuthMiddleware(d.TM, d.Cfg.Env)
	pay := handlers.NewPaymentHandler(d.Payments)
	hook := handlers.NewWebhookHandler(d.Webhooks)
	admin := handlers.NewAdminHandler(d.Payments, d.Links)
	links := handlers.NewLinkHandler(d.Links)

	r.Route("/api/v1", func(r chi.Router) {
		if d.Cfg.Env == "dev" {
			r.Post("/dev/token", handlers.NewDevTokenHandler(d.TM).Issue)
		}

		// gateway-signed, no bearer token
		r.Post("/payments/webhook", hook.Handle)

		r.Route("/payment-links", func(r chi.Router) {
			r.Post("/validate", links.Validate)
			r.Post("/order", links.CreateOrder)
			r.Post("/verify", links.Verify)
		})

		r.Group(func(r chi.Router) {
			r.Use(am.Auth)
			r.Post("/payments/create-order", pay.CreateOrder)
			r.Post("/payments/verify", pay.Verify)
			r.Get("/payments/history", pay.History)
			r.Get("/payments/status/{id}", pay.Status)
			r.Get("/payments/summary", pay.Summary)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(am.Auth, middleware.RequireRole("admin"))
			r.Get("/payments/statistics", admin.Statistics)
			r.Post("/payments/{id}/fail", admin.MarkFailed)
			r.Post("/payments/{id}/refund", admin.Refund)
			r.Get("/payments/{id}/audit", admin.AuditTrail)
			r.Post("/payment-links", admin.CreateLink)
			r.Get("/dead-letters", admin.DeadLetters)
			r.Post("/dead-letters/replay", admin.ReplayDeadLetters)
		})
	})

	return r
}
