// Package app assembles the payment components from configuration. Both the
// API server and the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/auth"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/cache"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/config"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/db"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/deadletter"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/events"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/gateway"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository/postgres"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/worker"
)

type App struct {
	Cfg         config.Config
	Log         *slog.Logger
	DB          *pgxpool.Pool
	Gateway     *gateway.Client
	DeadLetters *deadletter.Store
	Publisher   events.Publisher
	Pool        *worker.Pool
	Payments    *services.PaymentService
	Webhooks    *services.WebhookService
	Links       *services.PaymentLinkService

	closers []func() error
}

// DeadLetterMode says how New opens the dead-letter file. A bolt file has a
// single writer, so only the API server opens it for writing.
type DeadLetterMode int

const (
	DeadLettersOff DeadLetterMode = iota
	DeadLettersReadOnly
	DeadLettersReadWrite
)

type Options struct {
	DeadLetters DeadLetterMode
	// LockTimeout bounds the wait for the dead-letter file lock.
	LockTimeout time.Duration
}

// New connects to every backing store and wires the services. On error the
// parts already opened are closed again.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	var err error
	a.DB, err = db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.onClose(func() error { a.DB.Close(); return nil })

	if cfg.Migrate {
		applied, err := db.RunMigrations(ctx, a.DB)
		if err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied", "count", len(applied), "files", applied)
	}

	a.DeadLetters, err = openDeadLetters(cfg.DeadLetters, opts)
	if err != nil {
		return nil, err
	}
	// A nil *Store must not reach the services as a non-nil interface.
	var dead services.DeadLetters
	if a.DeadLetters != nil {
		a.onClose(a.DeadLetters.Close)
		dead = a.DeadLetters
	}

	var dedup cache.Deduper = cache.NewMemoryDeduper(cfg.Redis.DedupTTL)
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.onClose(rc.Close)
		dedup = cache.NewRedisDeduper(rc, cfg.Redis.DedupTTL)
		log.Info("webhook dedup backed by redis")
	} else {
		log.Warn("REDIS_URL not set, webhook dedup is per-process")
	}

	a.Publisher = events.NewLogPublisher(log)
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, log)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		a.Publisher = kp
	}
	a.onClose(a.Publisher.Close)

	a.Pool = worker.NewPool(cfg.WorkerCount, metrics.WorkerQueueDepth)
	a.onClose(func() error { a.Pool.Stop(); return nil })

	a.Gateway = gateway.New(gateway.Options{
		BaseURL:       cfg.Gateway.BaseURL,
		KeyID:         cfg.Gateway.KeyID,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Mode:          cfg.Gateway.Mode,
		Timeout:       cfg.Gateway.Timeout,
		Logger:        log,
	})

	repos := postgres.NewRepositories(a.DB)
	a.Payments = services.NewPaymentService(services.PaymentDeps{
		Transactions: repos.Transactions,
		AuditLogs:    repos.AuditLogs,
		PaymentLinks: repos.PaymentLinks,
		Gateway:      a.Gateway,
		Entities:     services.NewEntityUpdater(repos.Entities, log),
		DeadLetters:  dead,
		Publisher:    a.Publisher,
		Pool:         a.Pool,
		Logger:       log,
	}, services.PaymentOptions{
		DefaultCurrency: cfg.Payment.DefaultCurrency,
		ReceiptPrefix:   cfg.Payment.ReceiptPrefix,
		Mode:            cfg.Gateway.Mode,
	})
	a.Webhooks = services.NewWebhookService(a.Payments, a.Gateway, dedup, log)
	a.Links = services.NewPaymentLinkService(repos.PaymentLinks, repos.Entities, a.Payments,
		cfg.Payment.LinkExpiry, cfg.Payment.LinkBaseURL, log)
	ready = true
	return a, nil
}

func (a *App) onClose(f func() error) { a.closers = append(a.closers, f) }

func openDeadLetters(path string, opts Options) (*deadletter.Store, error) {
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	var (
		s   *deadletter.Store
		err error
	)
	switch opts.DeadLetters {
	case DeadLettersOff:
		return nil, nil
	case DeadLettersReadOnly:
		s, err = deadletter.OpenReadOnly(path, timeout)
	default:
		s, err = deadletter.Open(path, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("open dead letters %s (held by a running server? use the admin API): %w", path, err)
	}
	return s, nil
}

// Router builds the HTTP handler. /health pings the database.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Cfg:      a.Cfg,
		TM:       auth.NewTokenManager(a.Cfg.JWTSecret, a.Cfg.JWTIssuer, a.Cfg.JWTTTL),
		Payments: a.Payments,
		Webhooks: a.Webhooks,
		Links:    a.Links,
		Ready: func(r *http.Request) error {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			return a.DB.Ping(ctx)
		},
	})
}

// Close releases resources in reverse order of acquisition. The worker
// pool drains before the publisher and stores it writes to are closed.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
