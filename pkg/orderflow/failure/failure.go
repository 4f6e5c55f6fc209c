// Package failure captures deliveries that exhausted their retries.
//
// A Queue is the fallback destination of every bus rule. Captured records
// are retained for a fixed period and then expire whether or not an operator
// consumed them. ApproximateDepth feeds the failure-queue alarm.
package failure

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

// Retention periods.
const (
	// DefaultRetention matches the production failure queue.
	DefaultRetention = 14 * 24 * time.Hour

	// TestRetention is the short retention used by test configurations.
	TestRetention = 60 * time.Second
)

// Record is a captured failed delivery.
type Record struct {
	ID           string               `json:"id"`
	Delivery     event.FailedDelivery `json:"delivery"`
	EnqueuedAt   time.Time            `json:"enqueuedAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	ReceiveCount int                  `json:"receiveCount"`
}

// Expired reports whether the record is past its retention.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Queue is a durable failure sink.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue captures a failed delivery. It satisfies event.Fallback.
	Enqueue(ctx context.Context, failed *event.FailedDelivery) error

	// ApproximateDepth returns the number of unexpired records.
	ApproximateDepth(ctx context.Context) (int, error)

	// Receive returns up to max unexpired records, oldest first, without
	// removing them. Each returned record's ReceiveCount is incremented.
	Receive(ctx context.Context, max int) ([]Record, error)

	// Get returns one unexpired record.
	// Returns ErrNotFound if it doesn't exist or has expired.
	Get(ctx context.Context, id string) (Record, error)

	// Delete removes a record. Returns nil if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for failure queues.
var (
	// ErrNotFound indicates no unexpired record has the given ID.
	ErrNotFound = errors.New("failure record not found")

	// ErrQueueFull indicates the queue reached its size limit.
	ErrQueueFull = errors.New("failure queue full")

	// ErrQueueClosed indicates the queue has been closed.
	ErrQueueClosed = errors.New("failure queue closed")
)

// Config configures a failure queue.
type Config struct {
	// Retention is how long records are kept.
	// Default: DefaultRetention
	Retention time.Duration

	// MaxSize limits unexpired records. Zero means unlimited.
	MaxSize int

	// Logger records captures. Default: slog.Default()
	Logger *slog.Logger

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func logCaptured(logger *slog.Logger, rec Record) {
	logger.Warn("delivery captured in failure queue",
		slog.String("failure_id", rec.ID),
		slog.String("rule", rec.Delivery.Rule),
		slog.String("event_id", rec.Delivery.Event.ID),
		slog.String("detail_type", rec.Delivery.Event.DetailType),
		slog.Int("attempts", rec.Delivery.Attempts),
		slog.String("error", rec.Delivery.Error),
	)
}
