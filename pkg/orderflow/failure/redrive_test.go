package failure_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/failure"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func TestRedrive(t *testing.T) {
	ctx := context.Background()
	q := failure.NewMemoryQueue(failure.Config{Logger: quietLogger()})
	fd := failedDelivery("order-1")
	require.NoError(t, q.Enqueue(ctx, fd))

	records, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	pub := &recordingPublisher{}
	evt, err := failure.Redrive(ctx, q, pub, records[0].ID)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, evt.ID, pub.events[0].ID)
	assert.NotEqual(t, fd.Event.ID, evt.ID)
	assert.Equal(t, fd.Event.ID, evt.CausationID)
	assert.Equal(t, fd.Event.CorrelationID, evt.CorrelationID)
	assert.Equal(t, "order-1", evt.Detail["orderId"])

	depth, err := q.ApproximateDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestRedrive_PublishFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	q := failure.NewMemoryQueue(failure.Config{Logger: quietLogger()})
	require.NoError(t, q.Enqueue(ctx, failedDelivery("order-1")))
	records, err := q.Receive(ctx, 1)
	require.NoError(t, err)

	pub := &recordingPublisher{err: event.ErrBusClosed}
	_, err = failure.Redrive(ctx, q, pub, records[0].ID)
	assert.ErrorIs(t, err, event.ErrBusClosed)

	depth, err := q.ApproximateDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestRedrive_NotFound(t *testing.T) {
	q := failure.NewMemoryQueue(failure.Config{Logger: quietLogger()})
	_, err := failure.Redrive(context.Background(), q, &recordingPublisher{}, "missing")
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestRedriveAll(t *testing.T) {
	ctx := context.Background()
	q := failure.NewMemoryQueue(failure.Config{Logger: quietLogger()})
	for _, id := range []string{"order-1", "order-2", "order-3"} {
		require.NoError(t, q.Enqueue(ctx, failedDelivery(id)))
	}

	pub := &recordingPublisher{}
	n, err := failure.RedriveAll(ctx, q, pub, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.events, 2)

	depth, err := q.ApproximateDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

// A rule whose target always fails lands exactly one record in the queue,
// and redriving it after the target recovers delivers it.
func TestQueue_AsBusFallback(t *testing.T) {
	ctx := context.Background()
	q, err := failure.NewSQLiteQueue(":memory:", failure.Config{
		Retention: failure.TestRetention,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	defer q.Close()

	bus := event.NewBus(event.BusConfig{
		Name:     "orderflow-test-order-events",
		Fallback: q,
		Logger:   quietLogger(),
		Retry: oferrors.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			BackoffFactor:  2,
		},
	})
	defer bus.Close()

	var (
		mu       sync.Mutex
		healthy  bool
		attempts int
		handled  []string
	)
	_, err = bus.Subscribe(event.Rule{
		Name:    "notify-restaurant",
		Pattern: event.TypePattern("big-mouth", "order_placed"),
		Target: event.HandlerFunc(func(_ context.Context, evt event.Event) ([]event.Event, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if !healthy {
				return nil, errors.New("topic unavailable")
			}
			handled = append(handled, evt.ID)
			return nil, nil
		}),
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, event.New("big-mouth", "order_placed", map[string]any{"orderId": "order-1"})))
	require.NoError(t, bus.Drain(ctx))

	depth, err := q.ApproximateDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Equal(t, 3, attempts)

	records, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Delivery.Attempts)
	assert.Contains(t, records[0].Delivery.Error, "topic unavailable")

	mu.Lock()
	healthy = true
	mu.Unlock()

	_, err = failure.Redrive(ctx, q, bus, records[0].ID)
	require.NoError(t, err)
	require.NoError(t, bus.Drain(ctx))

	mu.Lock()
	assert.Len(t, handled, 1)
	mu.Unlock()
	depth, err = q.ApproximateDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}
