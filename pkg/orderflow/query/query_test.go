package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
	"github.com/randalmurphal/orderflow/pkg/orderflow/query"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) *order.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := order.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	payload := order.Payload{RestaurantID: "r1", UserID: "u1"}

	fresh := order.New("fresh", payload, t0)
	require.NoError(t, store.Create(ctx, fresh))

	waiting := order.New("waiting", payload, t0.Add(-time.Hour))
	require.NoError(t, store.Create(ctx, waiting))
	waiting.Advance(order.StageRestaurantNotifying, "", t0.Add(-time.Hour))
	require.NoError(t, store.Update(ctx, waiting))

	done := order.New("done", payload, t0.Add(-2*time.Hour))
	require.NoError(t, store.Create(ctx, done))
	for _, s := range []order.Stage{order.StageRestaurantNotifying, order.StageRestaurantNotified, order.StageUserNotifying, order.StageComplete} {
		done.Advance(s, "", t0.Add(-2*time.Hour))
	}
	require.NoError(t, store.Update(ctx, done))
	return store
}

func TestExecutor_Builtins(t *testing.T) {
	ctx := context.Background()
	exec := query.NewExecutor(seed(t))

	assert.Equal(t,
		[]string{query.QueryStatus, query.QueryProgress, query.QueryHistory, query.QueryPayload},
		exec.Queries())

	v, err := exec.Execute(ctx, "waiting", query.QueryStatus, nil)
	require.NoError(t, err)
	status := v.(query.Status)
	assert.Equal(t, order.StageRestaurantNotifying, status.Stage)
	assert.False(t, status.Terminal)
	assert.InDelta(t, 0.25, status.Progress, 1e-9)
	assert.Equal(t, 2, status.Version)

	v, err = exec.Execute(ctx, "done", query.QueryProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = exec.Execute(ctx, "fresh", query.QueryProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = exec.Execute(ctx, "done", query.QueryHistory, nil)
	require.NoError(t, err)
	assert.Len(t, v, 4)

	v, err = exec.Execute(ctx, "done", query.QueryHistory, map[string]string{"to": "complete"})
	require.NoError(t, err)
	history := v.([]order.Transition)
	require.Len(t, history, 1)
	assert.Equal(t, order.StageUserNotifying, history[0].From)

	v, err = exec.Execute(ctx, "fresh", query.QueryPayload, nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", v.(order.Payload).RestaurantID)
}

func TestExecutor_Errors(t *testing.T) {
	ctx := context.Background()
	exec := query.NewExecutor(seed(t))

	_, err := exec.Execute(ctx, "fresh", "nope", nil)
	assert.ErrorIs(t, err, query.ErrQueryNotFound)

	_, err = exec.Execute(ctx, "missing", query.QueryStatus, nil)
	assert.ErrorIs(t, err, query.ErrTargetNotFound)
	assert.ErrorIs(t, err, order.ErrNotFound)

	_, err = exec.Execute(ctx, "", query.QueryStatus, nil)
	assert.ErrorContains(t, err, "order ID is required")
}

func TestExecutor_Register(t *testing.T) {
	ctx := context.Background()
	exec := query.NewExecutor(seed(t), query.WithProgress(func(string) float64 { return 0.5 }))

	require.NoError(t, exec.Register("items", func(_ context.Context, o *order.Order, _ map[string]string) (any, error) {
		return len(o.Payload.Items), nil
	}))
	assert.ErrorContains(t, exec.Register("items", func(context.Context, *order.Order, map[string]string) (any, error) {
		return nil, nil
	}), "items")
	assert.Error(t, exec.Register("", nil))
	assert.Error(t, exec.Register("nil", nil))

	v, err := exec.Execute(ctx, "fresh", "items", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	v, err = exec.Execute(ctx, "fresh", query.QueryProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	sentinel := errors.New("boom")
	require.NoError(t, exec.Register("broken", func(context.Context, *order.Order, map[string]string) (any, error) {
		return nil, sentinel
	}))
	_, err = exec.Execute(ctx, "fresh", "broken", nil)
	assert.ErrorIs(t, err, sentinel)
}

func TestSummary(t *testing.T) {
	counts, err := query.Summary(context.Background(), seed(t))
	require.NoError(t, err)
	assert.Equal(t, map[order.Stage]int{
		order.StagePlaced:              1,
		order.StageRestaurantNotifying: 1,
		order.StageComplete:            1,
	}, counts)
}

func TestStuck(t *testing.T) {
	store := seed(t)

	stuck, err := query.Stuck(context.Background(), store, 30*time.Minute, t0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "waiting", stuck[0].ID)

	stuck, err = query.Stuck(context.Background(), store, 0, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, stuck, 2, "terminal orders are never stuck")
}
