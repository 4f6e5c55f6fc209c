package orderflow

import (
	"fmt"
	"strings"
)

// StateType determines what the engine does when an order enters a state.
type StateType string

const (
	// StateTask publishes Emit, then moves to Next.
	StateTask StateType = "task"

	// StateWait holds the order until an event listed in On arrives.
	StateWait StateType = "wait"

	// StatePass moves to Next immediately.
	StatePass StateType = "pass"

	// StateSucceed ends the workflow successfully.
	StateSucceed StateType = "succeed"

	// StateFail ends the workflow unsuccessfully.
	StateFail StateType = "fail"
)

// Terminal reports whether the state type ends the workflow.
func (t StateType) Terminal() bool {
	return t == StateSucceed || t == StateFail
}

// On is an event-driven transition out of a wait state.
type On struct {
	// Event is the detail type that triggers the transition.
	Event string `yaml:"event" json:"event"`
	// When is an optional guard over detail.* and order.* (see package expr).
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	// Next is the target state.
	Next string `yaml:"next" json:"next"`
}

// State is one node of a workflow definition. The state name is the order
// stage persisted while the order is in it.
type State struct {
	Name    string    `yaml:"name" json:"name"`
	Type    StateType `yaml:"type" json:"type"`
	Emit    string    `yaml:"emit,omitempty" json:"emit,omitempty"`
	Next    string    `yaml:"next,omitempty" json:"next,omitempty"`
	On      []On      `yaml:"on,omitempty" json:"on,omitempty"`
	OnError string    `yaml:"onError,omitempty" json:"onError,omitempty"`
}

// Definition is a declarative workflow. Build one with NewDefinition or
// load it with ParseDefinition, then Compile it.
//
// Example:
//
//	def := orderflow.NewDefinition("order-flow", "big-mouth").
//	    Task("placed", "order_placed", "restaurant_notifying").
//	    Wait("restaurant_notifying", orderflow.On{Event: "restaurant_notified", Next: "complete"}).
//	    Succeed("complete").
//	    Fail("failed").
//	    SetStart("placed")
//
//	wf, err := orderflow.Compile(def)
type Definition struct {
	Name    string `yaml:"name" json:"name"`
	Source  string `yaml:"source" json:"source"`
	StartAt string `yaml:"startAt" json:"startAt"`
	// OnError is the fail state used by states that set none.
	OnError string  `yaml:"onError,omitempty" json:"onError,omitempty"`
	States  []State `yaml:"states" json:"states"`
}

// NewDefinition creates an empty definition. source is the event source
// stamped on emitted events and matched on inbound events.
func NewDefinition(name, source string) *Definition {
	return &Definition{Name: name, Source: source}
}

// Add appends a state.
//
// Panics if:
//   - the name is empty or contains whitespace
//   - a state with the same name already exists
func (d *Definition) Add(s State) *Definition {
	if s.Name == "" {
		panic("orderflow: state name cannot be empty")
	}
	if strings.ContainsAny(s.Name, " \t\n\r") {
		panic("orderflow: state name cannot contain whitespace")
	}
	if _, ok := d.State(s.Name); ok {
		panic(fmt.Sprintf("orderflow: duplicate state: %s", s.Name))
	}
	d.States = append(d.States, s)
	return d
}

// Task adds a state that publishes emit and moves to next.
func (d *Definition) Task(name, emit, next string) *Definition {
	return d.Add(State{Name: name, Type: StateTask, Emit: emit, Next: next})
}

// Wait adds a state that waits for one of the given events.
func (d *Definition) Wait(name string, on ...On) *Definition {
	return d.Add(State{Name: name, Type: StateWait, On: on})
}

// Pass adds a state that moves straight to next.
func (d *Definition) Pass(name, next string) *Definition {
	return d.Add(State{Name: name, Type: StatePass, Next: next})
}

// Succeed adds a successful terminal state.
func (d *Definition) Succeed(name string) *Definition {
	return d.Add(State{Name: name, Type: StateSucceed})
}

// Fail adds an unsuccessful terminal state.
func (d *Definition) Fail(name string) *Definition {
	return d.Add(State{Name: name, Type: StateFail})
}

// SetStart designates the state new orders start in.
func (d *Definition) SetStart(name string) *Definition {
	d.StartAt = name
	return d
}

// SetOnError sets the default fail state.
func (d *Definition) SetOnError(name string) *Definition {
	d.OnError = name
	return d
}

// State returns the state with the given name.
func (d *Definition) State(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}
