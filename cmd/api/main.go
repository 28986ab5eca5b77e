package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/app"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/config"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/logger"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	a, err := app.New(ctx, cfg, log, app.Options{DeadLetters: app.DeadLettersReadWrite})
	if err != nil {
		log.Error("startup", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("config loaded",
		"mode", cfg.Gateway.Mode,
		"key_id_prefix", keyPrefix(cfg.Gateway.KeyID),
		"webhook_secret_set", cfg.Gateway.WebhookSecret != "",
		"redis", cfg.Redis.URL != "",
		"kafka_brokers", len(cfg.Kafka.Brokers),
	)

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
	if err := a.Close(); err != nil {
		log.Error("close", "err", err)
	}
}

func keyPrefix(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
