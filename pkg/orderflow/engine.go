package orderflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/observability"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
)

// Publisher is the part of the bus the engine publishes to.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// Engine drives orders through a compiled workflow.
//
// Every transition is persisted before the engine publishes anything that
// depends on it, so a failed write never leaves an event on the bus that
// the stored order does not account for. Engine keeps no per-order state
// in memory and is safe for concurrent use.
type Engine struct {
	wf     *Workflow
	orders order.Store
	bus    Publisher

	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	now             func() time.Time
	conflictRetries int
	newID           func() string
}

// NewEngine creates an engine.
//
// Panics if wf, orders or bus is nil.
func NewEngine(wf *Workflow, orders order.Store, bus Publisher, opts ...Option) *Engine {
	if wf == nil {
		panic("orderflow: workflow cannot be nil")
	}
	if orders == nil {
		panic("orderflow: order store cannot be nil")
	}
	if bus == nil {
		panic("orderflow: publisher cannot be nil")
	}

	e := &Engine{
		wf:              wf,
		orders:          orders,
		bus:             bus,
		logger:          slog.Default(),
		metrics:         observability.NoopMetrics{},
		spans:           observability.NoopSpanManager{},
		now:             time.Now,
		conflictRetries: 3,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workflow returns the workflow the engine runs.
func (e *Engine) Workflow() *Workflow {
	return e.wf
}

// Rule returns a bus rule that routes every event the workflow waits for
// to the engine.
func (e *Engine) Rule() event.Rule {
	return event.Rule{
		Name:    "workflow-" + e.wf.name,
		Pattern: e.wf.Pattern(),
		Target:  e,
	}
}

// Start validates payload, stores a new order in the start state and runs
// its automatic steps.
//
// The returned order is the last durably stored state, even when err is
// non-nil. An order that stopped in a task state is picked up by Resume.
func (e *Engine) Start(ctx context.Context, payload order.Payload, opts ...StartOption) (*order.Order, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	id := cfg.orderID
	if id == "" {
		id = e.newID()
	}

	o := order.New(id, payload, e.now().UTC())
	o.Stage = order.Stage(e.wf.start)
	if err := e.orders.Create(ctx, o); err != nil {
		if errors.Is(err, order.ErrExists) {
			return nil, fmt.Errorf("start order %s: %w", id, err)
		}
		return nil, e.persistenceError(id, "create", err)
	}

	observability.LogTransition(e.logger, o.ID, "", e.wf.start, "start")
	e.metrics.RecordTransition(ctx, "", e.wf.start)

	return e.advance(ctx, o, nil)
}

// Handle applies a bus event to the order named by detail.orderId.
//
// Events the current state waits for are applied. Events a later state waits
// for return ErrTransitionNotReady, which is transient so the bus redelivers.
// Events for earlier states, terminal orders, or rejected guards are ignored:
// an order never moves back.
func (e *Engine) Handle(ctx context.Context, evt event.Event) ([]event.Event, error) {
	orderID, ok := evt.String("orderId")
	if !ok {
		return nil, oferrors.Permanent(
			&oferrors.ValidationError{Field: "detail.orderId", Message: "required"}, "workflow event")
	}

	for attempt := 0; ; attempt++ {
		o, err := e.load(ctx, orderID)
		if err != nil {
			return nil, err
		}

		v, next, err := e.wf.decide(string(o.Stage), evt.DetailType, guardVars(o, evt))
		if err != nil {
			return nil, oferrors.Permanent(&StepError{OrderID: o.ID, State: string(o.Stage), Err: err}, "workflow event")
		}

		switch v {
		case verdictNotReady:
			return nil, oferrors.Transient(
				fmt.Errorf("order %s in %s: %s: %w", o.ID, o.Stage, evt.DetailType, ErrTransitionNotReady), "workflow event")
		case verdictStale, verdictRejected:
			if e.wf.automatic(string(o.Stage)) {
				// A redelivery after a failed step: finish that step.
				_, err = e.advance(ctx, o, &evt)
				return nil, err
			}
			observability.EnrichLogger(e.logger, o.ID, string(o.Stage)).Debug("event ignored",
				slog.String("detail_type", evt.DetailType),
				slog.String("event_id", evt.ID),
				slog.String("reason", v.String()),
			)
			return nil, nil
		}

		updated, err := e.transition(ctx, o, next, evt.DetailType, "")
		if errors.Is(err, order.ErrVersionConflict) {
			if attempt >= e.conflictRetries {
				return nil, e.conflictError(orderID)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		_, err = e.advance(ctx, updated, &evt)
		return nil, err
	}
}

// Resume re-runs the pending automatic step of an order, for example after
// a crash between persisting a task state and publishing its event.
// Orders in wait or terminal states are returned unchanged.
func (e *Engine) Resume(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if e.wf.Terminal(string(o.Stage)) {
		return o, nil
	}
	return e.advance(ctx, o, nil)
}

// ResumeAll resumes every order stored in a task or pass state and returns
// how many were resumed without error.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	names := e.wf.automaticStages()
	stages := make([]order.Stage, len(names))
	for i, n := range names {
		stages[i] = order.Stage(n)
	}
	if len(stages) == 0 {
		return 0, nil
	}

	pending, err := e.orders.List(ctx, stages...)
	if err != nil {
		return 0, e.persistenceError("*", "list", err)
	}

	var errs []error
	resumed := 0
	for _, o := range pending {
		if _, err := e.Resume(ctx, o.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		resumed++
	}
	return resumed, errors.Join(errs...)
}

// Fail moves a non-terminal order to its error target, recording reason.
// Returns ErrOrderTerminal if the order already finished.
func (e *Engine) Fail(ctx context.Context, orderID, reason string) (*order.Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := e.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if e.wf.Terminal(string(o.Stage)) {
			return o, fmt.Errorf("order %s in %s: %w", o.ID, o.Stage, ErrOrderTerminal)
		}
		target := e.wf.ErrorTarget(string(o.Stage))
		if target == "" {
			return o, &StepError{OrderID: o.ID, State: string(o.Stage), Err: ErrUnknownStage}
		}

		failed, err := e.transition(ctx, o, target, "failure", reason)
		if errors.Is(err, order.ErrVersionConflict) {
			if attempt >= e.conflictRetries {
				return o, e.conflictError(orderID)
			}
			continue
		}
		if err != nil {
			return o, err
		}
		return failed, nil
	}
}

// Get returns the stored order.
func (e *Engine) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return e.load(ctx, orderID)
}

// advance runs automatic steps until the order reaches a wait or terminal
// state. It returns the last stored order.
func (e *Engine) advance(ctx context.Context, o *order.Order, cause *event.Event) (*order.Order, error) {
	conflicts := 0
	for {
		cs, ok := e.wf.states.Get(string(o.Stage))
		if !ok {
			return o, oferrors.Permanent(&StepError{OrderID: o.ID, State: string(o.Stage), Err: ErrUnknownStage}, "workflow step")
		}

		var next *order.Order
		var err error
		switch cs.Type {
		case StateTask:
			next, err = e.runTask(ctx, o, cs, cause)
		case StatePass:
			next, err = e.transition(ctx, o, cs.Next, "", "")
		default:
			return o, nil
		}

		if errors.Is(err, order.ErrVersionConflict) {
			// Another writer moved the order; continue from what it stored.
			if conflicts >= e.conflictRetries {
				return o, e.conflictError(o.ID)
			}
			conflicts++
			reloaded, lerr := e.load(ctx, o.ID)
			if lerr != nil {
				return o, lerr
			}
			o = reloaded
			continue
		}
		if next != nil {
			o = next
		}
		if err != nil {
			return o, err
		}
	}
}

// runTask publishes the state's event, then persists the move to Next.
// A permanent publish error sends the order to its error target.
func (e *Engine) runTask(ctx context.Context, o *order.Order, cs *compiledState, cause *event.Event) (*order.Order, error) {
	evt := e.stepEvent(o, cs, cause)
	if err := e.bus.Publish(ctx, evt); err != nil {
		stepErr := &StepError{OrderID: o.ID, State: cs.Name, Err: err}
		if !oferrors.IsPermanent(err) {
			return nil, stepErr
		}
		failed, ferr := e.Fail(ctx, o.ID, err.Error())
		if ferr != nil && !errors.Is(ferr, ErrOrderTerminal) {
			return failed, errors.Join(stepErr, ferr)
		}
		return failed, oferrors.Permanent(stepErr, "workflow step")
	}
	return e.transition(ctx, o, cs.Next, cs.Emit, "")
}

// stepEvent builds the event a task state emits. The ID is derived from the
// order and state so a resumed step republishes the same event.
func (e *Engine) stepEvent(o *order.Order, cs *compiledState, cause *event.Event) event.Event {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(o.ID+"/"+cs.Name+"/"+cs.Emit)).String()
	opts := []event.Option{
		event.WithEventID(id),
		event.WithTimestamp(e.now().UTC()),
	}
	if cause != nil {
		return event.NewFromParent(*cause, e.wf.source, cs.Emit, o.Detail(), opts...)
	}
	return event.New(e.wf.source, cs.Emit, o.Detail(), append(opts, event.WithCorrelationID(o.ID))...)
}

// transition persists o moved to state to. A lost version check is
// returned as order.ErrVersionConflict; any other store error as a
// PersistenceError.
func (e *Engine) transition(ctx context.Context, o *order.Order, to, trigger, reason string) (*order.Order, error) {
	from := string(o.Stage)
	ctx, span := e.spans.StartTransitionSpan(ctx, o.ID, to)

	next := o.Clone()
	next.Advance(order.Stage(to), trigger, e.now().UTC())
	if reason != "" {
		next.FailureReason = reason
	}

	if err := e.orders.Update(ctx, next); err != nil {
		if errors.Is(err, order.ErrVersionConflict) {
			e.spans.EndSpanWithError(span, err)
			return nil, err
		}
		perr := e.persistenceError(o.ID, "update", err)
		e.spans.EndSpanWithError(span, perr)
		return nil, perr
	}
	e.spans.EndSpanWithError(span, nil)

	if trigger == "" {
		trigger = "automatic"
	}
	observability.LogTransition(e.logger, o.ID, from, to, trigger)
	e.metrics.RecordTransition(ctx, from, to)
	return next, nil
}

func (e *Engine) load(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := e.orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, oferrors.Permanent(fmt.Errorf("order %s: %w", orderID, err), "workflow load")
	}
	if err != nil {
		return nil, e.persistenceError(orderID, "load", err)
	}
	return o, nil
}

func (e *Engine) persistenceError(orderID, op string, err error) error {
	observability.LogPersistenceError(e.logger, orderID, op, err)
	return oferrors.Transient(&PersistenceError{OrderID: orderID, Op: op, Err: err}, "workflow persistence")
}

func (e *Engine) conflictError(orderID string) error {
	return e.persistenceError(orderID, "update", ErrConflictRetriesExhausted)
}

// guardVars exposes the event and order to transition guards.
func guardVars(o *order.Order, evt event.Event) map[string]any {
	return map[string]any{
		"detail": evt.Detail,
		"event": map[string]any{
			"id":     evt.ID,
			"type":   evt.DetailType,
			"source": evt.Source,
		},
		"order": map[string]any{
			"id":           o.ID,
			"stage":        string(o.Stage),
			"version":      o.Version,
			"restaurantId": o.Payload.RestaurantID,
			"userId":       o.Payload.UserID,
			"itemCount":    len(o.Payload.Items),
		},
	}
}
