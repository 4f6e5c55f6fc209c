package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records orderflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDelivery records one delivery of an event to a rule target,
	// after retries, with its outcome.
	RecordDelivery(ctx context.Context, rule string, duration time.Duration, attempts int, err error)

	// RecordFailureCaptured records a failed delivery handed to the failure queue.
	RecordFailureCaptured(ctx context.Context, rule string)

	// RecordHandoffFailure records a failed delivery that could not be
	// handed to the failure queue.
	RecordHandoffFailure(ctx context.Context, rule string)

	// RecordNotification records a notification dispatch.
	RecordNotification(ctx context.Context, kind string, replayed bool, err error)

	// RecordTransition records an order state transition.
	RecordTransition(ctx context.Context, from, to string)

	// RecordAlarmState records the current state of an alarm.
	RecordAlarmState(ctx context.Context, alarm string, breaching bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	deliveries       metric.Int64Counter
	deliveryLatency  metric.Float64Histogram
	deliveryAttempts metric.Int64Histogram
	deliveryErrors   metric.Int64Counter
	failuresCaptured metric.Int64Counter
	handoffFailures  metric.Int64Counter
	notifications    metric.Int64Counter
	transitions      metric.Int64Counter
	alarmState       metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("orderflow"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	deliveries, err := meter.Int64Counter("orderflow.bus.deliveries",
		metric.WithDescription("Number of event deliveries to rule targets"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("orderflow.bus.delivery.latency_ms",
		metric.WithDescription("Delivery latency including retries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryAttempts, err := meter.Int64Histogram("orderflow.bus.delivery.attempts",
		metric.WithDescription("Attempts made per delivery"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("orderflow.bus.delivery.errors",
		metric.WithDescription("Number of deliveries that exhausted retries"),
	)
	if err != nil {
		return nil, err
	}

	failuresCaptured, err := meter.Int64Counter("orderflow.failure.captured",
		metric.WithDescription("Number of failed deliveries recorded in the failure queue"),
	)
	if err != nil {
		return nil, err
	}

	handoffFailures, err := meter.Int64Counter("orderflow.failure.handoff_failures",
		metric.WithDescription("Number of failed deliveries that could not be recorded"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter("orderflow.dispatch.notifications",
		metric.WithDescription("Number of notification dispatches"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("orderflow.workflow.transitions",
		metric.WithDescription("Number of order state transitions"),
	)
	if err != nil {
		return nil, err
	}

	alarmState, err := meter.Int64Gauge("orderflow.alarm.state",
		metric.WithDescription("Alarm state, 1 when breaching and 0 when healthy"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		deliveries:       deliveries,
		deliveryLatency:  deliveryLatency,
		deliveryAttempts: deliveryAttempts,
		deliveryErrors:   deliveryErrors,
		failuresCaptured: failuresCaptured,
		handoffFailures:  handoffFailures,
		notifications:    notifications,
		transitions:      transitions,
		alarmState:       alarmState,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter returns a MetricsRecorder bound to a
// specific meter instead of the global provider.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	return newOtelMetrics(meter)
}

// RecordDelivery records a delivery.
func (m *otelMetrics) RecordDelivery(ctx context.Context, rule string, duration time.Duration, attempts int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("rule", rule),
		attribute.Bool("success", err == nil),
	)

	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.deliveryAttempts.Record(ctx, int64(attempts), attrs)

	if err != nil {
		m.deliveryErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
	}
}

// RecordFailureCaptured records a captured failure.
func (m *otelMetrics) RecordFailureCaptured(ctx context.Context, rule string) {
	m.failuresCaptured.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordHandoffFailure records a failed handoff.
func (m *otelMetrics) RecordHandoffFailure(ctx context.Context, rule string) {
	m.handoffFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordNotification records a notification dispatch.
func (m *otelMetrics) RecordNotification(ctx context.Context, kind string, replayed bool, err error) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("replayed", replayed),
		attribute.Bool("success", err == nil),
	))
}

// RecordTransition records a state transition.
func (m *otelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordAlarmState records alarm state.
func (m *otelMetrics) RecordAlarmState(ctx context.Context, alarm string, breaching bool) {
	var v int64
	if breaching {
		v = 1
	}
	m.alarmState.Record(ctx, v, metric.WithAttributes(attribute.String("alarm", alarm)))
}
