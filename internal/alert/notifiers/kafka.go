package notifiers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/i474232898/cold-storage-monitor/internal/alert"
)

var _ alert.Notifier = (*Kafka)(nil)

// KafkaConfig names the brokers and topic for alert events.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Key     string   `mapstructure:"key"`
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes each alert as one JSON message keyed by the room identifier.
type Kafka struct {
	cfg    KafkaConfig
	writer kafkaMessageWriter
}

func NewKafka(cfg KafkaConfig) *Kafka {
	if cfg.Topic == "" {
		cfg.Topic = "coldroom.alerts"
	}
	if cfg.Key == "" {
		cfg.Key = "coldroom"
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Kafka{cfg: cfg, writer: w}
}

func (k *Kafka) Notify(ctx context.Context, message string) error {
	value, err := json.Marshal(map[string]any{
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal kafka payload: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(k.cfg.Key),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.cfg.Topic, err)
	}
	return nil
}

func (k *Kafka) Type() string {
	return "kafka"
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
