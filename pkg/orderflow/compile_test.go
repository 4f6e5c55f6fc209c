package orderflow

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
)

func TestCompile_DefaultFlow(t *testing.T) {
	wf := defaultWorkflow(t)

	assert.Equal(t, "big-mouth-order-flow", wf.Name())
	assert.Equal(t, order.EventSource, wf.Source())
	assert.Equal(t, string(order.StagePlaced), wf.StartAt())
	assert.Equal(t, []string{order.DetailRestaurantNotified, order.DetailUserNotified}, wf.EventTypes())

	lifecycle := []order.Stage{
		order.StagePlaced,
		order.StageRestaurantNotifying,
		order.StageRestaurantNotified,
		order.StageUserNotifying,
		order.StageComplete,
	}
	for i := 1; i < len(lifecycle); i++ {
		prev, ok := wf.Rank(string(lifecycle[i-1]))
		require.True(t, ok)
		cur, ok := wf.Rank(string(lifecycle[i]))
		require.True(t, ok)
		assert.Greater(t, cur, prev, "%s must rank after %s", lifecycle[i], lifecycle[i-1])
	}

	complete, _ := wf.Rank(string(order.StageComplete))
	failed, _ := wf.Rank(string(order.StageFailed))
	assert.Equal(t, complete, failed, "terminal states share the top rank")

	assert.True(t, wf.Terminal("complete"))
	assert.True(t, wf.Terminal("failed"))
	assert.False(t, wf.Terminal("placed"))
	assert.False(t, wf.Terminal("unknown"))
	assert.Equal(t, "failed", wf.ErrorTarget("user_notifying"))
	assert.Empty(t, wf.ErrorTarget("unknown"))

	_, ok := wf.Rank("unknown")
	assert.False(t, ok)
	assert.Zero(t, wf.Progress("placed"))
	assert.InDelta(t, 1.0, wf.Progress("complete"), 1e-9)
	assert.InDelta(t, 1.0, wf.Progress("failed"), 1e-9)
	assert.Greater(t, wf.Progress("user_notifying"), wf.Progress("restaurant_notifying"))
	assert.Zero(t, wf.Progress("unknown"))
	assert.Len(t, wf.States(), 6)
	assert.Equal(t, []string{"placed", "restaurant_notified"}, wf.automaticStages())
}

func TestWorkflow_Pattern(t *testing.T) {
	wf := defaultWorkflow(t)
	p := wf.Pattern()

	assert.True(t, p.Matches(notified("o1", order.DetailRestaurantNotified)))
	assert.True(t, p.Matches(notified("o1", order.DetailUserNotified)))
	assert.False(t, p.Matches(notified("o1", order.DetailOrderPlaced)))
}

func TestCompile_Errors(t *testing.T) {
	valid := func() *Definition {
		return NewDefinition("flow", "shop").
			Task("placed", "order_placed", "waiting").
			Wait("waiting", On{Event: "confirmed", Next: "done"}).
			Succeed("done").
			Fail("failed").
			SetStart("placed")
	}

	tests := []struct {
		name   string
		def    func() *Definition
		target error
	}{
		{
			name:   "no start",
			def:    func() *Definition { return valid().SetStart("") },
			target: ErrNoStartState,
		},
		{
			name:   "start not found",
			def:    func() *Definition { return valid().SetStart("nowhere") },
			target: ErrStartNotFound,
		},
		{
			name: "duplicate from decoded definition",
			def: func() *Definition {
				d := valid()
				d.States = append(d.States, State{Name: "done", Type: StateSucceed})
				return d
			},
			target: ErrDuplicateState,
		},
		{
			name: "unknown type",
			def: func() *Definition {
				return valid().Add(State{Name: "odd", Type: "choice"})
			},
			target: ErrInvalidState,
		},
		{
			name: "task without emit",
			def: func() *Definition {
				return valid().Add(State{Name: "t", Type: StateTask, Next: "done"})
			},
			target: ErrInvalidState,
		},
		{
			name:   "wait without transitions",
			def:    func() *Definition { return valid().Wait("idle") },
			target: ErrInvalidState,
		},
		{
			name: "succeed with next",
			def: func() *Definition {
				return valid().Add(State{Name: "end", Type: StateSucceed, Next: "done"})
			},
			target: ErrInvalidState,
		},
		{
			name: "pass with events",
			def: func() *Definition {
				return valid().Add(State{Name: "p", Type: StatePass, Next: "done", On: []On{{Event: "x", Next: "done"}}})
			},
			target: ErrInvalidState,
		},
		{
			name:   "missing next target",
			def:    func() *Definition { return valid().Pass("p", "nowhere") },
			target: ErrStateNotFound,
		},
		{
			name: "missing event target",
			def: func() *Definition {
				return valid().Wait("w", On{Event: "x", Next: "nowhere"})
			},
			target: ErrStateNotFound,
		},
		{
			name: "error target is not a fail state",
			def: func() *Definition {
				d := valid()
				d.States[0].OnError = "done"
				return d
			},
			target: ErrInvalidState,
		},
		{
			name: "missing error target",
			def: func() *Definition {
				return valid().SetOnError("nowhere")
			},
			target: ErrStateNotFound,
		},
		{
			name: "ambiguous default error target",
			def: func() *Definition {
				return valid().Fail("rejected")
			},
			target: ErrInvalidState,
		},
		{
			name: "invalid guard",
			def: func() *Definition {
				return valid().Wait("w", On{Event: "x", When: "detail.a ==", Next: "done"})
			},
			target: ErrInvalidGuard,
		},
		{
			name: "loop with no exit",
			def: func() *Definition {
				return valid().Pass("a", "b").Pass("b", "a")
			},
			target: ErrNoPathToTerminal,
		},
		{
			name: "backward transition",
			def: func() *Definition {
				d := valid()
				d.States[1].On = append(d.States[1].On, On{Event: "reset", Next: "placed"})
				return d
			},
			target: ErrCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := Compile(tt.def())
			require.Error(t, err)
			assert.Nil(t, wf)
			assert.True(t, errors.Is(err, tt.target), "expected %v in %v", tt.target, err)
		})
	}
}

func TestCompile_CollectsMultipleErrors(t *testing.T) {
	def := NewDefinition("flow", "shop").
		Task("placed", "", "nowhere").
		Fail("failed")

	_, err := Compile(def)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoStartState)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, err, ErrStateNotFound)

	var stateErr *StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "placed", stateErr.State)
}

func TestCompile_Nil(t *testing.T) {
	_, err := Compile(nil)
	assert.Error(t, err)
}

func TestCompile_WarnsUnreachable(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	def := NewDefinition("flow", "shop").
		Task("placed", "order_placed", "done").
		Pass("orphan", "done").
		Succeed("done").
		Fail("failed").
		SetStart("placed")

	_, err := Compile(def)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "state is unreachable from start")
	assert.Contains(t, buf.String(), "state=orphan")
	assert.NotContains(t, buf.String(), "state=failed")
}

func TestCompile_BranchRanks(t *testing.T) {
	def := NewDefinition("flow", "shop").
		Task("placed", "order_placed", "waiting").
		Wait("waiting",
			On{Event: "fast", Next: "done"},
			On{Event: "slow", Next: "review"},
		).
		Wait("review", On{Event: "approved", Next: "done"}).
		Succeed("done").
		Fail("failed").
		SetStart("placed")

	wf, err := Compile(def)
	require.NoError(t, err)

	waiting, _ := wf.Rank("waiting")
	review, _ := wf.Rank("review")
	done, _ := wf.Rank("done")
	assert.Greater(t, review, waiting)
	assert.Greater(t, done, review, "longest path decides the rank")
	assert.Equal(t, []string{"approved", "fast", "slow"}, wf.EventTypes())
}
