package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
)

// LoggingMiddleware logs every delivery attempt at DEBUG, and failed
// attempts at WARN.
func LoggingMiddleware(logger *slog.Logger, rule string) MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) ([]Event, error) {
			start := time.Now()
			result, err := next.Handle(ctx, evt)

			attrs := []any{
				slog.String("rule", rule),
				slog.String("detail_type", evt.DetailType),
				slog.String("event_id", evt.ID),
				slog.Duration("duration", time.Since(start)),
				slog.Int("derived", len(result)),
			}
			if err != nil {
				logger.Warn("handler failed", append(attrs, slog.String("error", err.Error()))...)
			} else {
				logger.Debug("handler succeeded", attrs...)
			}
			return result, err
		})
	}
}

// RecoveryMiddleware turns a handler panic into a permanent error so the
// delivery goes straight to the fallback instead of crashing the bus.
func RecoveryMiddleware() MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) (result []Event, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = oferrors.Permanent(&EventError{
						Event:     evt,
						Message:   fmt.Sprintf("handler panic: %v", r),
						Timestamp: time.Now(),
					}, "recovered")
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// CorrelationMiddleware stamps correlation and causation IDs on derived
// events that were built without NewFromParent.
func CorrelationMiddleware() MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) ([]Event, error) {
			result, err := next.Handle(ctx, evt)
			if err != nil {
				return nil, err
			}
			for i := range result {
				if result[i].CorrelationID == "" || result[i].CorrelationID == result[i].ID {
					result[i].CorrelationID = evt.CorrelationID
				}
				if result[i].CausationID == "" {
					result[i].CausationID = evt.ID
				}
			}
			return result, nil
		})
	}
}
