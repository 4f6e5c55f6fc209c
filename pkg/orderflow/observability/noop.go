package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(_ context.Context, _ string, _ time.Duration, _ int, _ error) {}

// RecordFailureCaptured does nothing.
func (NoopMetrics) RecordFailureCaptured(_ context.Context, _ string) {}

// RecordHandoffFailure does nothing.
func (NoopMetrics) RecordHandoffFailure(_ context.Context, _ string) {}

// RecordNotification does nothing.
func (NoopMetrics) RecordNotification(_ context.Context, _ string, _ bool, _ error) {}

// RecordTransition does nothing.
func (NoopMetrics) RecordTransition(_ context.Context, _, _ string) {}

// RecordAlarmState does nothing.
func (NoopMetrics) RecordAlarmState(_ context.Context, _ string, _ bool) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
var noopSpan = noop.Span{}

// StartDeliverySpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartDeliverySpan(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartTransitionSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTransitionSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
