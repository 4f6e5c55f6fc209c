package orderflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for definition compilation.
var (
	// ErrNoStartState indicates the definition has no StartAt.
	ErrNoStartState = errors.New("start state not set")

	// ErrStartNotFound indicates StartAt references a non-existent state.
	ErrStartNotFound = errors.New("start state not found")

	// ErrStateNotFound indicates a transition references a non-existent state.
	ErrStateNotFound = errors.New("state not found")

	// ErrDuplicateState indicates two states share a name.
	ErrDuplicateState = errors.New("duplicate state")

	// ErrInvalidState indicates a state is missing fields its type requires,
	// or carries fields its type forbids.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidGuard indicates a transition guard failed to parse.
	ErrInvalidGuard = errors.New("invalid guard")

	// ErrCycle indicates the transitions loop back to an earlier state.
	ErrCycle = errors.New("transition cycle")

	// ErrNoPathToTerminal indicates a state from which no terminal state is reachable.
	ErrNoPathToTerminal = errors.New("no path to a terminal state")
)

// Sentinel errors for execution.
var (
	// ErrWorkflowPersistenceFailed indicates the order store rejected a read
	// or write. Nothing is published after it.
	ErrWorkflowPersistenceFailed = errors.New("workflow persistence failed")

	// ErrTransitionNotReady indicates an event that belongs to a later state
	// than the order has reached. It is transient so the bus redelivers it.
	ErrTransitionNotReady = errors.New("transition not ready")

	// ErrOrderTerminal indicates the order already reached a terminal state.
	ErrOrderTerminal = errors.New("order is in a terminal state")

	// ErrUnknownStage indicates a stored order is in a stage the workflow
	// does not define.
	ErrUnknownStage = errors.New("stage not defined by workflow")

	// ErrConflictRetriesExhausted indicates every optimistic update attempt
	// lost to a concurrent writer.
	ErrConflictRetriesExhausted = errors.New("order update conflict retries exhausted")
)

// StateError wraps a compilation error with the state it was found on.
type StateError struct {
	// State is the name of the offending state.
	State string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StateError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed order store operation.
// It matches ErrWorkflowPersistenceFailed and the store's own error.
type PersistenceError struct {
	// OrderID is the order being read or written.
	OrderID string
	// Op is the store operation ("create", "load", "update").
	Op string
	// Err is the underlying store error.
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("order %s: %s: %v: %v", e.OrderID, e.Op, ErrWorkflowPersistenceFailed, e.Err)
}

// Unwrap returns both the sentinel and the store error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrWorkflowPersistenceFailed, e.Err}
}

// StepError reports a failed automatic step, such as a rejected publish.
type StepError struct {
	// OrderID is the order whose step failed.
	OrderID string
	// State is the state whose step failed.
	State string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("order %s: step %s: %v", e.OrderID, e.State, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}
