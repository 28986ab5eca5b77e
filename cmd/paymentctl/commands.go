package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/app"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/config"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/db"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/logger"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/services"
)

const operator = "paymentctl"

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()
			applied, err := db.RunMigrations(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}

func markFailedCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "mark-failed <transaction-id>",
		Short: "Mark an initiated or pending transaction as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.DeadLettersOff, func(ctx context.Context, a *app.App) error {
				tx, err := a.Payments.MarkPaymentFailed(ctx, args[0], reason, operator)
				if err != nil {
					return err
				}
				return printJSON(cmd, tx)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason recorded on the transaction")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func refundCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "refund <transaction-id>",
		Short: "Refund a successful payment, in full unless --amount is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return withApp(cmd, app.DeadLettersOff, func(ctx context.Context, a *app.App) error {
				res, err := a.Payments.Refund(ctx, args[0], partial, operator)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "partial refund amount in major units, e.g. 250.00")
	return cmd
}

func parseAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("--amount: %w", err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("--amount must be positive")
	}
	return &d, nil
}

func reconcileCmd() *cobra.Command {
	var in services.ReconcileInput
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recover transactions stuck in initiated or pending",
		Long: `Matches initiated transactions to gateway orders by receipt id.

With --fail-stale, initiated transactions without an order and pending
transactions whose order was never paid are marked failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.DeadLettersOff, func(ctx context.Context, a *app.App) error {
				rep, err := a.Payments.Reconcile(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	cmd.Flags().DurationVar(&in.OlderThan, "older-than", time.Hour, "only consider transactions created before now minus this")
	cmd.Flags().BoolVar(&in.FailStale, "fail-stale", false, "mark unrecoverable transactions failed")
	cmd.Flags().IntVar(&in.Limit, "limit", 100, "maximum transactions per status")
	return cmd
}

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect or replay failed related-entity updates",
		Long: `Works on the dead-letter file named by DEADLETTER_PATH. The file has a
single writer: the API server holds it exclusively while it runs, so use
GET /api/v1/admin/dead-letters and POST /api/v1/admin/dead-letters/replay
then. list opens the file read-only and replay opens it for writing.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded failures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.DeadLettersReadOnly, func(ctx context.Context, a *app.App) error {
				items, err := a.Payments.ListDeadLetters()
				if err != nil {
					return err
				}
				return printJSON(cmd, items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "replay [transaction-id...]",
		Short: "Reapply failed updates; all of them when no id is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.DeadLettersReadWrite, func(ctx context.Context, a *app.App) error {
				rep, err := a.Payments.ReplayDeadLetters(ctx, args...)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the environment and print a summary without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return printJSON(cmd, summarize(cfg))
		},
	})
	return cmd
}

type configSummary struct {
	Env              string   `json:"env"`
	Mode             string   `json:"gateway_mode"`
	KeyIDPrefix      string   `json:"gateway_key_id_prefix"`
	WebhookSecretSet bool     `json:"webhook_secret_set"`
	GatewayTimeout   string   `json:"gateway_timeout"`
	DefaultCurrency  string   `json:"default_currency"`
	LinkExpiry       string   `json:"link_expiry"`
	Redis            bool     `json:"redis"`
	KafkaBrokers     []string `json:"kafka_brokers"`
	DeadLetters      string   `json:"dead_letter_path"`
	Workers          int      `json:"workers"`
}

func summarize(cfg config.Config) configSummary {
	prefix := cfg.Gateway.KeyID
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return configSummary{
		Env:              cfg.Env,
		Mode:             cfg.Gateway.Mode,
		KeyIDPrefix:      prefix,
		WebhookSecretSet: cfg.Gateway.WebhookSecret != "",
		GatewayTimeout:   cfg.Gateway.Timeout.String(),
		DefaultCurrency:  cfg.Payment.DefaultCurrency,
		LinkExpiry:       cfg.Payment.LinkExpiry.String(),
		Redis:            cfg.Redis.URL != "",
		KafkaBrokers:     cfg.Kafka.Brokers,
		DeadLetters:      cfg.DeadLetters,
		Workers:          cfg.WorkerCount,
	}
}

// withApp builds the component graph for one command, opening the
// dead-letter file only as far as dl asks. Logs go to stderr so stdout
// stays machine-readable.
func withApp(cmd *cobra.Command, dl app.DeadLetterMode, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cfg.Env, cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, log, app.Options{DeadLetters: dl})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
