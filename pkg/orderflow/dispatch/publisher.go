// Package dispatch sends order notifications exactly once per order and
// trigger, and emits the follow-up events that advance the workflow.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Message is one notification.
type Message struct {
	// ID is unique per notification and stable across replays.
	ID string

	// Key partitions messages; dispatchers use the order ID.
	Key string

	Body    []byte
	Headers map[string]string
}

// Publisher delivers notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

// ErrNotificationDeliveryFailed matches every failed notification send.
var ErrNotificationDeliveryFailed = errors.New("notification delivery failed")

// NotificationError reports a failed send. It matches
// ErrNotificationDeliveryFailed with errors.Is.
type NotificationError struct {
	OrderID string
	Topic   string
	Err     error
}

// Error implements error interface.
func (e *NotificationError) Error() string {
	return fmt.Sprintf("order %s: topic %s: %v: %v", e.OrderID, e.Topic, ErrNotificationDeliveryFailed, e.Err)
}

// Unwrap returns both the sentinel and the underlying error.
func (e *NotificationError) Unwrap() []error {
	return []error{ErrNotificationDeliveryFailed, e.Err}
}
