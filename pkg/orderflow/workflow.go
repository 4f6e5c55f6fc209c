package orderflow

import (
	"slices"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/expr"
	"github.com/randalmurphal/orderflow/pkg/orderflow/registry"
)

// Workflow is a compiled, immutable definition.
// Workflow is safe for concurrent use; share one across engines.
type Workflow struct {
	name    string
	source  string
	start   string
	states  *registry.Registry[string, *compiledState]
	accepts map[string][]string // event type -> wait states listening for it
	maxRank int
}

type compiledState struct {
	State
	rank    int
	onError string
	guards  []*expr.Expr // parallel to On
}

// Name returns the workflow name.
func (w *Workflow) Name() string {
	return w.name
}

// Source returns the event source the workflow emits and listens to.
func (w *Workflow) Source() string {
	return w.source
}

// StartAt returns the state new orders start in.
func (w *Workflow) StartAt() string {
	return w.start
}

// States returns state definitions in declaration order.
func (w *Workflow) States() []State {
	cs := w.states.Values()
	out := make([]State, len(cs))
	for i, s := range cs {
		out[i] = s.State
	}
	return out
}

// State returns the definition of a state.
func (w *Workflow) State(name string) (State, bool) {
	cs, ok := w.states.Get(name)
	if !ok {
		return State{}, false
	}
	return cs.State, true
}

// Rank returns the position of a state along the lifecycle. Stages only
// move to higher ranks. Terminal states share the highest rank.
func (w *Workflow) Rank(name string) (int, bool) {
	cs, ok := w.states.Get(name)
	if !ok {
		return 0, false
	}
	return cs.rank, true
}

// Progress returns the rank of name as a fraction of the terminal rank.
// Unknown states report 0.
func (w *Workflow) Progress(name string) float64 {
	r, ok := w.Rank(name)
	if !ok {
		return 0
	}
	if w.maxRank == 0 {
		return 1
	}
	return float64(r) / float64(w.maxRank)
}

// Terminal reports whether name is a succeed or fail state.
func (w *Workflow) Terminal(name string) bool {
	cs, ok := w.states.Get(name)
	return ok && cs.Type.Terminal()
}

// ErrorTarget returns the fail state an order in name moves to when a step
// fails permanently.
func (w *Workflow) ErrorTarget(name string) string {
	cs, ok := w.states.Get(name)
	if !ok {
		return ""
	}
	return cs.onError
}

// EventTypes returns the detail types the workflow waits for, sorted.
func (w *Workflow) EventTypes() []string {
	out := make([]string, 0, len(w.accepts))
	for t := range w.accepts {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Pattern matches every event the workflow waits for.
func (w *Workflow) Pattern() event.Pattern {
	return event.TypePattern(w.source, w.EventTypes()...)
}

// automaticStages returns the stages whose step runs without an event.
func (w *Workflow) automaticStages() []string {
	var out []string
	for _, cs := range w.states.Values() {
		if cs.Type == StateTask || cs.Type == StatePass {
			out = append(out, cs.Name)
		}
	}
	return out
}

func (w *Workflow) automatic(name string) bool {
	cs, ok := w.states.Get(name)
	return ok && (cs.Type == StateTask || cs.Type == StatePass)
}

type verdict int

const (
	verdictApply verdict = iota
	verdictNotReady
	verdictStale
	verdictRejected
)

func (v verdict) String() string {
	switch v {
	case verdictApply:
		return "apply"
	case verdictNotReady:
		return "not_ready"
	case verdictStale:
		return "stale"
	default:
		return "rejected"
	}
}

// decide determines what an event means for an order in stage.
//   - apply: stage waits for the event and a guard holds; next is the target
//   - rejected: stage waits for the event but every guard failed
//   - not ready: a later stage waits for the event
//   - stale: the event belongs to an earlier stage, or the order is terminal
func (w *Workflow) decide(stage string, eventType string, vars map[string]any) (verdict, string, error) {
	cs, ok := w.states.Get(stage)
	if !ok {
		return verdictStale, "", ErrUnknownStage
	}
	if cs.Type.Terminal() {
		return verdictStale, "", nil
	}

	if cs.Type == StateWait {
		matched := false
		for i, on := range cs.On {
			if on.Event != eventType {
				continue
			}
			matched = true
			if cs.guards[i].Eval(vars) {
				return verdictApply, on.Next, nil
			}
		}
		if matched {
			return verdictRejected, "", nil
		}
	}

	for _, name := range w.accepts[eventType] {
		if other, _ := w.states.Get(name); other.rank > cs.rank {
			return verdictNotReady, "", nil
		}
	}
	return verdictStale, "", nil
}
