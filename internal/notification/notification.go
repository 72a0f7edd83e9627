package notification

import (
	"context"
	"log/slog"
)

const (
	// KindBalanceChanged is emitted after every successful balance mutation.
	KindBalanceChanged = "balance_changed"
	// KindInsufficientBalance is emitted when a decrease is rejected.
	KindInsufficientBalance = "insufficient_balance"
	// KindTransferSent confirms a completed transfer to the sender.
	KindTransferSent = "transfer_sent"
	// KindTransferReceived informs the receiver of incoming funds.
	KindTransferReceived = "transfer_received"
	// KindTransferFailed informs the sender that a transfer failed.
	KindTransferFailed = "transfer_failed"
	// KindTransferPending informs the sender that the outcome is not yet confirmed.
	KindTransferPending = "transfer_pending"
	// KindOpsAlert is a high-priority alert for the operations team.
	KindOpsAlert = "ops_alert"
)

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems. Delivery is best
// effort; callers ignore the returned error beyond logging it.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if message.Kind == KindOpsAlert {
		level = slog.LevelError
	}
	n.logger.Log(context.Background(), level, "notification",
		"kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// Discard drops every message.
type Discard struct{}

// Send implements Notifier.
func (Discard) Send(context.Context, Message) error { return nil }
