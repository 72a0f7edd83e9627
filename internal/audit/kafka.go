package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit events to a Kafka topic, keyed by resource id so
// the events of one transfer stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

type record struct {
	Event
	Level      Level     `json:"level"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewKafkaSink builds an asynchronous audit sink.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	s := &KafkaSink{logger: logger}
	s.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil && s.logger != nil {
				s.logger.Error("audit publish failed", slog.Int("messages", len(messages)), slog.Any("error", err))
			}
		},
	}
	return s
}

func (s *KafkaSink) LogSuccess(ctx context.Context, event Event) { s.publish(ctx, LevelSuccess, event) }
func (s *KafkaSink) LogFailure(ctx context.Context, event Event) { s.publish(ctx, LevelFailure, event) }
func (s *KafkaSink) LogWarning(ctx context.Context, event Event) { s.publish(ctx, LevelWarning, event) }

func (s *KafkaSink) publish(ctx context.Context, level Level, event Event) {
	data, err := json.Marshal(record{Event: event, Level: level, OccurredAt: time.Now().UTC()})
	if err == nil {
		err = s.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{Key: []byte(event.ResourceID), Value: data})
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("audit event dropped",
			slog.String("action", event.Action),
			slog.String("resource_id", event.ResourceID),
			slog.Any("error", err))
	}
}

// Close flushes pending events.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
