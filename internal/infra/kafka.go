package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// PingKafka verifies that at least one broker accepts connections and that
// every topic exists, mirroring the startup checks done for Postgres and Redis.
func PingKafka(ctx context.Context, brokers []string, topics ...string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}

	var (
		conn *kafka.Conn
		errs []error
	)
	for _, broker := range brokers {
		c, err := kafka.DialContext(ctx, "tcp", broker)
		if err == nil {
			conn = c
			break
		}
		errs = append(errs, fmt.Errorf("dial %s: %w", broker, err))
	}
	if conn == nil {
		return fmt.Errorf("connect kafka: %w", errors.Join(errs...))
	}
	defer conn.Close()

	for _, topic := range topics {
		if _, err := conn.ReadPartitions(topic); err != nil {
			return fmt.Errorf("kafka topic %s: %w", topic, err)
		}
	}
	return nil
}
