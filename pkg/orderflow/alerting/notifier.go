package alerting

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/orderflow/pkg/orderflow/dispatch"
)

// Notifier delivers an operator message to a channel.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, channel, message string) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, channel, message string) error {
	return f(ctx, channel, message)
}

// PublisherNotifier sends operator messages through a notification
// publisher, using the channel as the topic.
type PublisherNotifier struct {
	pub dispatch.Publisher
}

// NewPublisherNotifier creates a PublisherNotifier.
func NewPublisherNotifier(pub dispatch.Publisher) *PublisherNotifier {
	return &PublisherNotifier{pub: pub}
}

// Notify implements Notifier.
func (n *PublisherNotifier) Notify(ctx context.Context, channel, message string) error {
	return n.pub.Publish(ctx, channel, dispatch.Message{
		ID:      uuid.NewString(),
		Key:     channel,
		Body:    []byte(message),
		Headers: map[string]string{"content-type": "application/json"},
	})
}

// LogNotifier writes operator messages to a logger at error level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, channel, message string) error {
	n.logger.Error("operator notification",
		slog.String("channel", channel),
		slog.String("message", message),
	)
	return nil
}
