// Package observability provides structured logging, metrics, and
// distributed tracing for orderflow.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds order context to a logger.
// Returns a new logger with order_id and stage fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "o1", "restaurant_notifying")
//	enriched.Info("publishing") // includes order_id, stage
func EnrichLogger(logger *slog.Logger, orderID, stage string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("order_id", orderID),
		slog.String("stage", stage),
	)
}

// LogTransition logs an order moving between workflow states.
func LogTransition(logger *slog.Logger, orderID, from, to, trigger string) {
	if logger == nil {
		return
	}
	logger.Info("order transitioned",
		slog.String("order_id", orderID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("trigger", trigger),
	)
}

// LogPublish logs an event accepted by the bus.
func LogPublish(logger *slog.Logger, detailType, eventID string, matched int) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("detail_type", detailType),
		slog.String("event_id", eventID),
		slog.Int("matched_rules", matched),
	)
}

// LogDeliveryRetry logs a failed delivery attempt that will be retried.
func LogDeliveryRetry(logger *slog.Logger, rule, eventID string, attempt int, wait time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("delivery attempt failed, retrying",
		slog.String("rule", rule),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", wait),
		slog.String("error", err.Error()),
	)
}

// LogDeliveryFailed logs a delivery that exhausted its retries.
func LogDeliveryFailed(logger *slog.Logger, rule, eventID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed, handing to fallback",
		slog.String("rule", rule),
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogHandoffFailure logs a delivery failure that could not be recorded in
// the failure queue. This is the one failure that must reach an operator.
func LogHandoffFailure(logger *slog.Logger, rule, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("failure handoff failed",
		slog.String("rule", rule),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogNotification logs a notification dispatch outcome.
func LogNotification(logger *slog.Logger, kind, orderID, topic string, replayed bool) {
	if logger == nil {
		return
	}
	logger.Info("notification dispatched",
		slog.String("kind", kind),
		slog.String("order_id", orderID),
		slog.String("topic", topic),
		slog.Bool("replayed", replayed),
	)
}

// LogPersistenceError logs a failed write to order storage.
func LogPersistenceError(logger *slog.Logger, orderID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("order persistence failed",
		slog.String("order_id", orderID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogAlarm logs an alarm state change.
func LogAlarm(logger *slog.Logger, alarm, state string, value float64) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if state == "ALARM" {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "alarm state changed",
		slog.String("alarm", alarm),
		slog.String("state", state),
		slog.Float64("value", value),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
