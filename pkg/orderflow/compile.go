package orderflow

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/orderflow/pkg/orderflow/expr"
	"github.com/randalmurphal/orderflow/pkg/orderflow/registry"
)

// Compile validates a definition and creates an immutable Workflow.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. StartAt must be set and name an existing state
//  2. State names must be unique and types known
//  3. Each state has exactly the fields its type needs
//  4. Every Next, On.Next and OnError names an existing state
//  5. Every non-terminal state resolves an error target that is a fail state
//  6. Guards parse
//  7. Every state can reach a terminal state
//  8. Transitions form no cycle, so order stages only move forward
//
// States not reachable from StartAt are logged as warnings but do not
// cause compilation to fail.
func Compile(def *Definition) (*Workflow, error) {
	if def == nil {
		return nil, errors.New("orderflow: nil definition")
	}

	var errs []error
	states := registry.New[string, *compiledState]()

	for _, s := range def.States {
		if err := states.Add(s.Name, &compiledState{State: s}); err != nil {
			errs = append(errs, &StateError{State: s.Name, Err: ErrDuplicateState})
		}
	}

	if def.StartAt == "" {
		errs = append(errs, ErrNoStartState)
	} else if !states.Has(def.StartAt) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrStartNotFound, def.StartAt))
	}

	for _, cs := range states.Values() {
		errs = append(errs, validateState(cs, def, states)...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, name := range statesWithoutTerminal(states) {
		errs = append(errs, &StateError{State: name, Err: ErrNoPathToTerminal})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if cycle := findCycle(states); cycle != "" {
		return nil, &StateError{State: cycle, Err: ErrCycle}
	}

	warnUnreachableStates(def.StartAt, states)

	return buildWorkflow(def, states), nil
}

func validateState(cs *compiledState, def *Definition, states *registry.Registry[string, *compiledState]) []error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, &StateError{State: cs.Name, Err: fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))})
	}
	target := func(field, name string) {
		if !states.Has(name) {
			errs = append(errs, &StateError{State: cs.Name, Err: fmt.Errorf("%w: %s target %q", ErrStateNotFound, field, name)})
		}
	}

	switch cs.Type {
	case StateTask:
		if cs.Emit == "" {
			invalid("task requires emit")
		}
		if cs.Next == "" {
			invalid("task requires next")
		}
	case StatePass:
		if cs.Next == "" {
			invalid("pass requires next")
		}
	case StateWait:
		if len(cs.On) == 0 {
			invalid("wait requires at least one transition")
		}
		if cs.Next != "" {
			invalid("wait moves only on events, next is not allowed")
		}
	case StateSucceed, StateFail:
		if cs.Next != "" || len(cs.On) > 0 || cs.Emit != "" {
			invalid("%s state cannot have transitions", cs.Type)
		}
	default:
		invalid("unknown type %q", cs.Type)
		return errs
	}

	if cs.Type != StateWait && len(cs.On) > 0 {
		invalid("%s state cannot wait for events", cs.Type)
	}
	if cs.Next != "" {
		target("next", cs.Next)
	}

	cs.guards = make([]*expr.Expr, len(cs.On))
	for i, on := range cs.On {
		if on.Event == "" {
			invalid("transition %d has no event", i)
		}
		if on.Next == "" {
			invalid("transition on %s has no next", on.Event)
		} else {
			target("on."+on.Event, on.Next)
		}
		guard, err := expr.Parse(on.When)
		if err != nil {
			errs = append(errs, &StateError{State: cs.Name, Err: fmt.Errorf("%w: %w", ErrInvalidGuard, err)})
			continue
		}
		cs.guards[i] = guard
	}

	if cs.Type.Terminal() {
		return errs
	}
	cs.onError = cs.OnError
	if cs.onError == "" {
		cs.onError = def.OnError
	}
	if cs.onError == "" {
		cs.onError = soleFailState(states)
	}
	switch errState, ok := states.Get(cs.onError); {
	case cs.onError == "":
		invalid("no error target and no single fail state to default to")
	case !ok:
		errs = append(errs, &StateError{State: cs.Name, Err: fmt.Errorf("%w: onError target %q", ErrStateNotFound, cs.onError)})
	case errState.Type != StateFail:
		invalid("onError target %q is not a fail state", cs.onError)
	}
	return errs
}

func soleFailState(states *registry.Registry[string, *compiledState]) string {
	found := ""
	for _, cs := range states.Values() {
		if cs.Type == StateFail {
			if found != "" {
				return ""
			}
			found = cs.Name
		}
	}
	return found
}

// successors returns forward transitions. Error edges are excluded: they
// lead to terminal states and cannot form a cycle.
func (cs *compiledState) successors() []string {
	var out []string
	if cs.Next != "" {
		out = append(out, cs.Next)
	}
	for _, on := range cs.On {
		out = append(out, on.Next)
	}
	return out
}

// findCycle returns a state on a cycle, or "" if the transitions are acyclic.
func findCycle(states *registry.Registry[string, *compiledState]) string {
	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, states.Len())

	var visit func(name string) string
	visit = func(name string) string {
		switch mark[name] {
		case visiting:
			return name
		case done:
			return ""
		}
		mark[name] = visiting
		cs, _ := states.Get(name)
		for _, next := range cs.successors() {
			if c := visit(next); c != "" {
				return c
			}
		}
		mark[name] = done
		return ""
	}

	for _, name := range states.Keys() {
		if c := visit(name); c != "" {
			return c
		}
	}
	return ""
}

// statesWithoutTerminal returns states that cannot reach a terminal state.
func statesWithoutTerminal(states *registry.Registry[string, *compiledState]) []string {
	canReach := make(map[string]bool)
	for _, cs := range states.Values() {
		if cs.Type.Terminal() {
			canReach[cs.Name] = true
		}
	}

	// Keep propagating until no changes
	changed := true
	for changed {
		changed = false
		for _, cs := range states.Values() {
			if canReach[cs.Name] {
				continue
			}
			for _, next := range cs.successors() {
				if canReach[next] {
					canReach[cs.Name] = true
					changed = true
					break
				}
			}
		}
	}

	var out []string
	for _, name := range states.Keys() {
		if !canReach[name] {
			out = append(out, name)
		}
	}
	return out
}

// warnUnreachableStates logs warnings for states not reachable from start.
func warnUnreachableStates(start string, states *registry.Registry[string, *compiledState]) {
	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		cs, _ := states.Get(name)
		next := cs.successors()
		if cs.onError != "" {
			next = append(next, cs.onError)
		}
		for _, n := range next {
			if !reachable[n] {
				reachable[n] = true
				queue = append(queue, n)
			}
		}
	}

	for _, name := range states.Keys() {
		if !reachable[name] {
			slog.Warn("state is unreachable from start", "state", name)
		}
	}
}

// buildWorkflow assigns ranks as the longest forward path from any root.
// Terminal states share the highest rank so nothing ranks after them.
func buildWorkflow(def *Definition, states *registry.Registry[string, *compiledState]) *Workflow {
	rank := make(map[string]int, states.Len())
	var depth func(name string) int
	preds := make(map[string][]string)
	for _, cs := range states.Values() {
		for _, next := range cs.successors() {
			preds[next] = append(preds[next], cs.Name)
		}
	}
	depth = func(name string) int {
		if r, ok := rank[name]; ok {
			return r
		}
		r := 0
		for _, p := range preds[name] {
			r = max(r, depth(p)+1)
		}
		rank[name] = r
		return r
	}

	maxRank := 0
	for _, name := range states.Keys() {
		maxRank = max(maxRank, depth(name))
	}

	accepts := make(map[string][]string)
	for _, cs := range states.Values() {
		cs.rank = rank[cs.Name]
		if cs.Type.Terminal() {
			cs.rank = maxRank
		}
		seen := make(map[string]bool)
		for _, on := range cs.On {
			if !seen[on.Event] {
				seen[on.Event] = true
				accepts[on.Event] = append(accepts[on.Event], cs.Name)
			}
		}
	}

	return &Workflow{
		name:    def.Name,
		source:  def.Source,
		start:   def.StartAt,
		states:  states,
		accepts: accepts,
		maxRank: maxRank,
	}
}
