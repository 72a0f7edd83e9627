package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes notifications to a Kafka topic for the delivery
// service (push, SMS, email) to fan out.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *slog.Logger
}

type kafkaMessage struct {
	Message
	OccurredAt time.Time `json:"occurred_at"`
}

// NewKafkaNotifier builds an asynchronous notifier publishing to topic.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) *KafkaNotifier {
	n := &KafkaNotifier{logger: logger}
	n.writer = &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil && n.logger != nil {
				n.logger.Warn("notification publish failed", slog.Int("messages", len(messages)), slog.Any("error", err))
			}
		},
	}
	return n
}

// Send enqueues the message; it never blocks on the broker.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	data, err := json.Marshal(kafkaMessage{Message: message, OccurredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: data,
	})
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
