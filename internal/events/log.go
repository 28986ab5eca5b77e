package events

import (
	"context"
	"log/slog"
)

// LogPublisher is used when no brokers are configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With("component", "events")}
}

func (l *LogPublisher) Publish(_ context.Context, e PaymentEvent) error {
	l.log.Info("payment event", "op", "event_logged", "type", e.Type,
		"transaction_id", e.TransactionID, "amount", e.Amount.StringFixed(2), "currency", e.Currency)
	return nil
}

func (l *LogPublisher) Close() error { return nil }
