package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the orderflow tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("orderflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDeliverySpan starts a span for delivering one event to one rule target.
	StartDeliverySpan(ctx context.Context, rule, detailType, eventID string) (context.Context, trace.Span)

	// StartTransitionSpan starts a span for one workflow step on an order.
	StartTransitionSpan(ctx context.Context, orderID, state string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartDeliverySpan starts a span for a rule delivery.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, rule, detailType, eventID string) (context.Context, trace.Span) {
	return StartDeliverySpan(ctx, rule, detailType, eventID)
}

// StartTransitionSpan starts a span for a workflow step.
func (m *otelSpanManager) StartTransitionSpan(ctx context.Context, orderID, state string) (context.Context, trace.Span) {
	return StartTransitionSpan(ctx, orderID, state)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// Convenience functions that operate on the global tracer.
// These are useful for simple cases where you don't need the interface.

// StartDeliverySpan starts a span for a rule delivery.
// Uses the global OTel tracer.
func StartDeliverySpan(ctx context.Context, rule, detailType, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orderflow.deliver."+rule,
		trace.WithAttributes(
			attribute.String("rule.name", rule),
			attribute.String("event.detail_type", detailType),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// StartTransitionSpan starts a span for a workflow step.
// Uses the global OTel tracer.
func StartTransitionSpan(ctx context.Context, orderID, state string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orderflow.state."+state,
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("workflow.state", state),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
