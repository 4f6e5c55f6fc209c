package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics_ImplementsInterface(t *testing.T) {
	var _ MetricsRecorder = NoopMetrics{}
}

func TestNoopMetrics_NoPanics(t *testing.T) {
	m := NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDelivery(ctx, "r", time.Second, 3, errors.New("x"))
		m.RecordFailureCaptured(ctx, "r")
		m.RecordHandoffFailure(ctx, "r")
		m.RecordNotification(ctx, "restaurant", true, nil)
		m.RecordTransition(ctx, "placed", "complete")
		m.RecordAlarmState(ctx, "a", true)
	})
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartDeliverySpan(ctx, "r", "order_placed", "e")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	got, span = sm.StartTransitionSpan(ctx, "o1", "placed")
	assert.Equal(t, ctx, got)
	assert.False(t, span.SpanContext().IsValid())

	assert.NotPanics(t, func() {
		sm.AddSpanEvent(ctx, "x", attribute.String("k", "v"))
		sm.EndSpanWithError(span, errors.New("x"))
	})
}
