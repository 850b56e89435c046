package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/metrics"
)

// KafkaConfig contains configuration for the registry event writer
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	// Async hands messages to a background batch; delivery errors are only logged
	Async       bool
	MaxAttempts int
}

// Kafka writes events keyed by parcel id so a parcel's history stays ordered.
type Kafka struct {
	writer *kafka.Writer
	logger *zap.Logger
}

var _ Publisher = (*Kafka)(nil)

func NewKafka(cfg KafkaConfig, logger *zap.Logger) *Kafka {
	if cfg.Topic == "" {
		cfg.Topic = "terrahash.registry"
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	k := &Kafka{logger: logger.Named("kafka")}
	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		MaxAttempts:            cfg.MaxAttempts,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  cfg.Async,
		Completion:             k.completed,
	}
	return k
}

// completed reports the outcome of an async batch
func (k *Kafka) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	metrics.EventsPublished.WithLabelValues("kafka_delivery", "error").Add(float64(len(messages)))
	k.logger.Error("Failed to deliver registry events", zap.Int("count", len(messages)), zap.Error(err))
}

func (k *Kafka) Publish(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := evt.ParcelID
	if key == "" {
		key = evt.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", evt.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
