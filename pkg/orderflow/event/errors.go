package event

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusClosed is returned when publishing to a closed bus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrDuplicateRule is returned when a rule name is already registered.
	ErrDuplicateRule = errors.New("rule already registered")

	// ErrBufferFull is recorded when a rule cannot accept a delivery.
	ErrBufferFull = errors.New("rule delivery buffer full")

	// ErrNoFallback is recorded when a rule with no fallback fails.
	ErrNoFallback = errors.New("rule has no fallback destination")

	// ErrFailureHandoffFailed indicates a failed delivery could not be
	// recorded in its fallback destination.
	ErrFailureHandoffFailed = errors.New("failure handoff failed")
)

// EventError represents an error during event processing.
type EventError struct {
	Event     Event     // The event that failed
	Rule      string    // Rule whose target failed (if known)
	Message   string    // Error message
	Err       error     // Underlying error
	Attempt   int       // Which attempt this was
	Timestamp time.Time // When the error occurred
}

// Error implements error interface.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.ID, e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// FailedDelivery is the event plus failure context handed to a rule's
// fallback destination once delivery retries are exhausted.
type FailedDelivery struct {
	Event    Event     `json:"event"`
	Rule     string    `json:"rule"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}

// NewFailedDelivery creates a FailedDelivery from an error.
func NewFailedDelivery(evt Event, rule string, err error, attempts int) *FailedDelivery {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &FailedDelivery{
		Event:    evt.Clone(),
		Rule:     rule,
		Error:    msg,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
}

// Fallback receives deliveries that could not be completed.
type Fallback interface {
	Enqueue(ctx context.Context, failed *FailedDelivery) error
}

// FallbackFunc adapts a function to the Fallback interface.
type FallbackFunc func(ctx context.Context, failed *FailedDelivery) error

// Enqueue implements Fallback.
func (f FallbackFunc) Enqueue(ctx context.Context, failed *FailedDelivery) error {
	return f(ctx, failed)
}

// HandoffError reports a failed delivery that could not be handed to its
// fallback. It matches ErrFailureHandoffFailed with errors.Is.
type HandoffError struct {
	Delivery *FailedDelivery
	Err      error
}

// Error implements error interface.
func (e *HandoffError) Error() string {
	return fmt.Sprintf("rule %s: event %s: %v: %v",
		e.Delivery.Rule, e.Delivery.Event.ID, ErrFailureHandoffFailed, e.Err)
}

// Unwrap returns both the sentinel and the underlying error.
func (e *HandoffError) Unwrap() []error {
	return []error{ErrFailureHandoffFailed, e.Err}
}
