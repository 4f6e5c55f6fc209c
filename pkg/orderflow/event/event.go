package event

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
)

// Event is an immutable structured message describing something that
// happened. Detail is an opaque payload interpreted by subscribers.
//
// Events are passed by value. The bus hands every target its own copy of
// Detail, so a target cannot change what another target observes.
type Event struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	DetailType string         `json:"detailType"`
	Detail     map[string]any `json:"detail"`
	BusName    string         `json:"busName,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`

	// Correlation for distributed tracing
	CorrelationID string `json:"correlationId,omitempty"` // Groups related events
	CausationID   string `json:"causationId,omitempty"`   // Event that directly caused this one
}

// Option configures event creation.
type Option func(*Event)

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(e *Event) {
		e.CausationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t
	}
}

// New creates an event with the given source, detail type and detail.
// The detail map is copied.
func New(source, detailType string, detail map[string]any, opts ...Option) Event {
	evt := Event{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Detail:     cloneDetail(detail),
		Timestamp:  time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(&evt)
	}

	// If no correlation ID, use event ID as the root
	if evt.CorrelationID == "" {
		evt.CorrelationID = evt.ID
	}

	return evt
}

// NewFromParent creates an event caused by a parent event.
// It inherits the parent's correlation ID and sets the causation ID.
func NewFromParent(parent Event, source, detailType string, detail map[string]any, opts ...Option) Event {
	parentOpts := []Option{
		WithCorrelationID(parent.CorrelationID),
		WithCausationID(parent.ID),
	}
	return New(source, detailType, detail, append(parentOpts, opts...)...)
}

// Clone returns a copy of the event that shares no mutable state.
func (e Event) Clone() Event {
	e.Detail = cloneDetail(e.Detail)
	return e
}

// String returns the detail value at key if it is a non-empty string.
func (e Event) String(key string) (string, bool) {
	v, ok := e.Detail[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Validate reports whether the event is well formed enough to publish.
func (e Event) Validate() error {
	if e.Source == "" {
		return &oferrors.ValidationError{Field: "source", Message: "required"}
	}
	if e.DetailType == "" {
		return &oferrors.ValidationError{Field: "detailType", Message: "required"}
	}
	return nil
}

// cloneDetail deep-copies a detail map through its JSON form so nested
// maps and slices are not shared. Values that cannot be encoded fall back
// to a shallow copy.
func cloneDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return maps.Clone(detail)
	}
	out := make(map[string]any, len(detail))
	if err := json.Unmarshal(data, &out); err != nil {
		return maps.Clone(detail)
	}
	return out
}

// Handler processes events and optionally returns derived events.
type Handler interface {
	// Handle processes an event and returns any derived events.
	// The bus publishes derived events after a successful delivery.
	Handle(ctx context.Context, evt Event) ([]Event, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) ([]Event, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) ([]Event, error) {
	return f(ctx, evt)
}

// MiddlewareFunc wraps handlers to add cross-cutting concerns.
type MiddlewareFunc func(next Handler) Handler

// ChainMiddleware applies middleware in order, with first middleware outermost.
func ChainMiddleware(handler Handler, middleware ...MiddlewareFunc) Handler {
	// Apply in reverse order so first middleware is outermost
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}
