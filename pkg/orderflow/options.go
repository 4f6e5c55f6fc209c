package orderflow

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/orderflow/pkg/orderflow/observability"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables transition metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSpans enables a span per transition.
func WithSpans(s observability.SpanManager) Option {
	return func(e *Engine) {
		if s != nil {
			e.spans = s
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithConflictRetries sets how many times an update that lost an
// optimistic version check is re-read and re-applied.
// Default: 3
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.conflictRetries = n
		}
	}
}

// WithIDGenerator sets the generator for order IDs. Default: uuid.NewString.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// StartOption configures a single Start call.
type StartOption func(*startConfig)

type startConfig struct {
	orderID string
}

// WithOrderID uses a caller-supplied order ID instead of generating one.
func WithOrderID(id string) StartOption {
	return func(c *startConfig) {
		c.orderID = id
	}
}
