package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaPublisher writes events to "<prefix>.<event type>" topics keyed by
// transaction id so every event of one payment lands on one partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	prefix   string
	log      *slog.Logger
}

func NewKafkaPublisher(brokers []string, topicPrefix string, log *slog.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newKafkaPublisher(p, topicPrefix, log), nil
}

func newKafkaPublisher(p sarama.SyncProducer, topicPrefix string, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, prefix: topicPrefix, log: log.With("component", "kafka")}
}

func (k *KafkaPublisher) Topic(eventType string) string {
	if k.prefix == "" {
		return eventType
	}
	return k.prefix + "." + eventType
}

func (k *KafkaPublisher) Publish(_ context.Context, e PaymentEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.Topic(e.Type),
		Key:   sarama.StringEncoder(e.TransactionID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		k.log.Error("publish failed", "op", "event_publish_failed", "topic", msg.Topic, "transaction_id", e.TransactionID, "err", err)
		return err
	}
	k.log.Info("event published", "op", "event_published", "topic", msg.Topic,
		"transaction_id", e.TransactionID, "partition", partition, "offset", offset)
	return nil
}

func (k *KafkaPublisher) Close() error { return k.producer.Close() }
