// Package query provides read-only inspection of stored orders.
//
// Queries never modify an order. Named handlers run against one order and
// are registered on an Executor; Summary and Stuck scan the whole store for
// operator dashboards.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
	"github.com/randalmurphal/orderflow/pkg/orderflow/registry"
)

// Handler answers a query about one order. Handlers must not modify o.
type Handler func(ctx context.Context, o *order.Order, args map[string]string) (any, error)

// Loader reads a stored order. order.Store satisfies it.
type Loader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Lister lists stored orders. order.Store satisfies it.
type Lister interface {
	List(ctx context.Context, stages ...order.Stage) ([]*order.Order, error)
}

var (
	// ErrQueryNotFound is returned when no handler has the query name.
	ErrQueryNotFound = errors.New("query not found")

	// ErrTargetNotFound is returned when the queried order doesn't exist.
	ErrTargetNotFound = errors.New("target not found")
)

// Built-in query names.
const (
	QueryStatus   = "status"   // Status of the order
	QueryProgress = "progress" // Fraction of the lifecycle completed
	QueryHistory  = "history"  // Transition history
	QueryPayload  = "payload"  // What the customer placed
)

// Status is the result of QueryStatus.
type Status struct {
	OrderID       string      `json:"orderId"`
	Stage         order.Stage `json:"stage"`
	Terminal      bool        `json:"terminal"`
	Progress      float64     `json:"progress"`
	Version       int         `json:"version"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	FailureReason string      `json:"failureReason,omitempty"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithProgress replaces the stage progress function. Default: stage rank
// as a fraction of the complete stage's rank.
func WithProgress(fn func(stage string) float64) Option {
	return func(e *Executor) { e.progress = fn }
}

// Executor runs named queries against stored orders.
type Executor struct {
	loader   Loader
	handlers *registry.Registry[string, Handler]
	progress func(stage string) float64
}

// NewExecutor creates an executor with the built-in queries registered.
func NewExecutor(loader Loader, opts ...Option) *Executor {
	e := &Executor{
		loader:   loader,
		handlers: registry.New[string, Handler](),
		progress: defaultProgress,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handlers.MustAdd(QueryStatus, func(_ context.Context, o *order.Order, _ map[string]string) (any, error) {
		return e.status(o), nil
	})
	e.handlers.MustAdd(QueryProgress, func(_ context.Context, o *order.Order, _ map[string]string) (any, error) {
		return e.progress(string(o.Stage)), nil
	})
	e.handlers.MustAdd(QueryHistory, func(_ context.Context, o *order.Order, args map[string]string) (any, error) {
		if to := args["to"]; to != "" {
			var out []order.Transition
			for _, tr := range o.History {
				if string(tr.To) == to {
					out = append(out, tr)
				}
			}
			return out, nil
		}
		return o.History, nil
	})
	e.handlers.MustAdd(QueryPayload, func(_ context.Context, o *order.Order, _ map[string]string) (any, error) {
		return o.Payload, nil
	})
	return e
}

func defaultProgress(stage string) float64 {
	s := order.Stage(stage)
	if !s.Valid() {
		return 0
	}
	if s.Terminal() {
		return 1
	}
	return float64(s.Rank()-1) / float64(order.StageComplete.Rank()-1)
}

func (e *Executor) status(o *order.Order) Status {
	return Status{
		OrderID:       o.ID,
		Stage:         o.Stage,
		Terminal:      o.Stage.Terminal(),
		Progress:      e.progress(string(o.Stage)),
		Version:       o.Version,
		UpdatedAt:     o.UpdatedAt,
		FailureReason: o.FailureReason,
	}
}

// Register adds a handler for a query name.
func (e *Executor) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("query name is required")
	}
	if h == nil {
		return errors.New("handler is required")
	}
	if err := e.handlers.Add(name, h); err != nil {
		return fmt.Errorf("query %q: %w", name, err)
	}
	return nil
}

// Queries returns the registered query names in registration order.
func (e *Executor) Queries() []string {
	return e.handlers.Keys()
}

// Execute runs a query against one order.
func (e *Executor) Execute(ctx context.Context, orderID, name string, args map[string]string) (any, error) {
	if orderID == "" {
		return nil, errors.New("order ID is required")
	}
	h, ok := e.handlers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, name)
	}
	o, err := e.loader.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTargetNotFound, orderID, err)
		}
		return nil, err
	}
	return h(ctx, o, args)
}

// Summary counts stored orders per stage.
func Summary(ctx context.Context, l Lister) (map[order.Stage]int, error) {
	orders, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[order.Stage]int)
	for _, o := range orders {
		counts[o.Stage]++
	}
	return counts, nil
}

// Stuck returns non-terminal orders not updated within olderThan of now,
// oldest first.
func Stuck(ctx context.Context, l Lister, olderThan time.Duration, now time.Time) ([]*order.Order, error) {
	orders, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-olderThan)
	var out []*order.Order
	for _, o := range orders {
		if !o.Stage.Terminal() && o.UpdatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}
