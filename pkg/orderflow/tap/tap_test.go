package tap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orderflow/pkg/orderflow/config"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func placed(orderID string) event.Event {
	return event.New(order.EventSource, order.DetailOrderPlaced, map[string]any{"orderId": orderID})
}

func TestQueue_ReceiveHidesUntilVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	q := NewQueue(QueueConfig{VisibilityTimeout: time.Second, Now: clk.Now})

	evt := placed("o-1")
	require.NoError(t, q.Push(evt))

	msgs, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, evt.ID, msgs[0].ID)
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	decoded, err := msgs[0].Event()
	require.NoError(t, err)
	assert.Equal(t, order.DetailOrderPlaced, decoded.DetailType)
	assert.Equal(t, "o-1", decoded.Detail["orderId"])

	msgs, err = q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "hidden during visibility timeout")

	clk.Advance(time.Second)
	again, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ReceiveCount)
}

func TestQueue_Delete(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	q := NewQueue(QueueConfig{Now: clk.Now})
	require.NoError(t, q.Push(placed("o-1")))

	first, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	clk.Advance(DefaultVisibilityTimeout)
	second, err := q.Receive(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, first[0].ReceiptHandle), "stale receipt is ignored")
	assert.Equal(t, 1, q.Depth())

	require.NoError(t, q.Delete(ctx, second[0].ReceiptHandle))
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_Retention(t *testing.T) {
	clk := newClock()
	q := NewQueue(QueueConfig{Retention: 10 * time.Second, Now: clk.Now})
	require.NoError(t, q.Push(placed("o-1")))
	clk.Advance(5 * time.Second)
	require.NoError(t, q.Push(placed("o-2")))

	clk.Advance(5 * time.Second)
	assert.Equal(t, 1, q.Depth())

	msgs, err := q.Receive(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	evt, err := msgs[0].Event()
	require.NoError(t, err)
	assert.Equal(t, "o-2", evt.Detail["orderId"])
}

func TestQueue_ReceiveMax(t *testing.T) {
	q := NewQueue(QueueConfig{})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(placed(id)))
	}
	msgs, err := q.Receive(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestQueue_WaitFor(t *testing.T) {
	q := NewQueue(QueueConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push(placed("other"))
		_ = q.Push(placed("wanted"))
	}()

	msg, err := q.WaitFor(ctx, func(evt event.Event) bool {
		return evt.Detail["orderId"] == "wanted"
	})
	require.NoError(t, err)
	evt, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, "wanted", evt.Detail["orderId"])

	others, err := q.Receive(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, others, 1, "non-matching message stays visible")
}

func TestQueue_WaitForTimeout(t *testing.T) {
	q := NewQueue(QueueConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.WaitFor(ctx, func(event.Event) bool { return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(QueueConfig{})
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.NoError(t, q.Push(placed("o")))
	assert.Zero(t, q.Depth())
	_, err := q.Receive(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.WaitFor(context.Background(), func(event.Event) bool { return true })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInstall(t *testing.T) {
	bus := event.NewBus(event.BusConfig{Name: "test-bus"})
	defer bus.Close()

	settings := config.Defaults()
	tp, err := Install(bus, settings, Options{})
	require.NoError(t, err)
	assert.Contains(t, bus.Rules(), RuleName)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, placed("o-1")))
	require.NoError(t, bus.Publish(ctx, event.New("elsewhere", "noise", nil)))
	require.NoError(t, bus.Drain(ctx))

	msgs, err := tp.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	evt, err := msgs[0].Event()
	require.NoError(t, err)
	assert.Equal(t, "test-bus", evt.BusName)

	require.NoError(t, tp.Remove())
	assert.NotContains(t, bus.Rules(), RuleName)
}

func TestTap_RemoveKeepsFailuresOutOfBusFallback(t *testing.T) {
	var mu sync.Mutex
	var captured []string
	bus := event.NewBus(event.BusConfig{
		Fallback: event.FallbackFunc(func(_ context.Context, failed *event.FailedDelivery) error {
			mu.Lock()
			defer mu.Unlock()
			captured = append(captured, failed.Rule)
			return nil
		}),
	})
	defer bus.Close()

	tp, err := Install(bus, config.Defaults(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 200; i++ {
		require.NoError(t, bus.Publish(ctx, placed("o")))
	}
	require.NoError(t, tp.Remove())
	require.NoError(t, bus.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, captured)
	assert.Zero(t, bus.HandoffFailures())
}

func TestInstall_DetailTypes(t *testing.T) {
	bus := event.NewBus(event.BusConfig{})
	defer bus.Close()

	tp, err := Install(bus, config.Defaults(), Options{DetailTypes: []string{order.DetailUserNotified}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, placed("o-1")))
	require.NoError(t, bus.Publish(ctx, event.New(order.EventSource, order.DetailUserNotified, map[string]any{"orderId": "o-1"})))

	msg, err := tp.WaitFor(ctx, func(event.Event) bool { return true })
	require.NoError(t, err)
	evt, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, order.DetailUserNotified, evt.DetailType)

	require.NoError(t, bus.Drain(ctx))
	assert.Equal(t, 1, tp.Depth())
}

func TestInstall_RefusesProduction(t *testing.T) {
	bus := event.NewBus(event.BusConfig{})
	defer bus.Close()

	settings := config.Defaults()
	settings.Stage = "prod"
	_, err := Install(bus, settings, Options{})
	assert.ErrorIs(t, err, ErrProductionStage)
	assert.Empty(t, bus.Rules())

	settings.Stage = "dev"
	settings.Tap = false
	_, err = Install(bus, settings, Options{})
	assert.ErrorIs(t, err, ErrProductionStage)
}
