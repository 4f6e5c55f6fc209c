package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/idempotency"
	"github.com/randalmurphal/orderflow/pkg/orderflow/observability"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
)

// Notification kinds.
const (
	KindRestaurant = "restaurant"
	KindUser       = "user"
)

// RenderFunc builds the notification for an event.
type RenderFunc func(evt event.Event) (Message, error)

// Config describes one dispatcher.
type Config struct {
	// Kind labels logs and metrics, e.g. KindRestaurant.
	Kind string

	// Rule is the bus rule name. Default: "notify-" + Kind.
	Rule string

	// Trigger is the detail type the dispatcher reacts to.
	Trigger string

	// Topic receives the notifications.
	Topic string

	// FollowUpType is the detail type of the emitted event. Empty emits
	// nothing.
	FollowUpType string

	// Source of follow-up events. Default: order.EventSource
	Source string

	// Render builds the message body. Default: the event detail as JSON.
	Render RenderFunc
}

// Sent is the stored result of a notification. Replays return it unchanged
// so a redelivered trigger emits the same follow-up event.
type Sent struct {
	MessageID  string    `json:"messageId"`
	Topic      string    `json:"topic"`
	FollowUpID string    `json:"followUpId,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// Dispatcher is an event.Handler that notifies at most once per
// (orderId, detailType).
type Dispatcher struct {
	cfg       Config
	publisher Publisher
	guard     *idempotency.Guard
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithSource sets the event source the dispatcher listens to and emits
// follow-ups from. Empty keeps the default.
func WithSource(source string) Option {
	return func(d *Dispatcher) {
		if source != "" {
			d.cfg.Source = source
		}
	}
}

// New creates a dispatcher.
//
// Panics if publisher or guard is nil, or cfg lacks Kind, Trigger or Topic.
func New(publisher Publisher, guard *idempotency.Guard, cfg Config, opts ...Option) *Dispatcher {
	if publisher == nil || guard == nil {
		panic("dispatch: publisher and guard are required")
	}
	if cfg.Kind == "" || cfg.Trigger == "" || cfg.Topic == "" {
		panic("dispatch: kind, trigger and topic are required")
	}
	if cfg.Rule == "" {
		cfg.Rule = "notify-" + cfg.Kind
	}
	if cfg.Source == "" {
		cfg.Source = order.EventSource
	}
	if cfg.Render == nil {
		cfg.Render = RenderDetail
	}

	d := &Dispatcher{
		cfg:       cfg,
		publisher: publisher,
		guard:     guard,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("dispatcher", cfg.Kind))
	return d
}

// NewRestaurantNotifier notifies the restaurant when an order is placed and
// emits restaurant_notified.
func NewRestaurantNotifier(publisher Publisher, guard *idempotency.Guard, topic string, opts ...Option) *Dispatcher {
	return New(publisher, guard, Config{
		Kind:         KindRestaurant,
		Trigger:      order.DetailOrderPlaced,
		Topic:        topic,
		FollowUpType: order.DetailRestaurantNotified,
	}, opts...)
}

// NewUserNotifier notifies the user once the restaurant was notified and
// emits user_notified.
func NewUserNotifier(publisher Publisher, guard *idempotency.Guard, topic string, opts ...Option) *Dispatcher {
	return New(publisher, guard, Config{
		Kind:         KindUser,
		Trigger:      order.DetailRestaurantNotified,
		Topic:        topic,
		FollowUpType: order.DetailUserNotified,
	}, opts...)
}

// Config returns the dispatcher's configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Rule returns the bus rule that routes the trigger to this dispatcher.
// Callers may set Retry, Fallback and other delivery fields before
// subscribing.
func (d *Dispatcher) Rule() event.Rule {
	return event.Rule{
		Name:    d.cfg.Rule,
		Pattern: event.TypePattern(d.cfg.Source, d.cfg.Trigger),
		Target:  d,
	}
}

// Handle implements event.Handler.
func (d *Dispatcher) Handle(ctx context.Context, evt event.Event) ([]event.Event, error) {
	orderID, ok := evt.String("orderId")
	if !ok {
		err := oferrors.Permanent(
			&oferrors.ValidationError{Field: "orderId", Message: "event " + evt.ID + " has no orderId"},
			"dispatch "+d.cfg.Kind)
		d.metrics.RecordNotification(ctx, d.cfg.Kind, false, err)
		return nil, err
	}

	key := idempotency.Key(orderID, evt.DetailType)
	res, err := idempotency.RunOnce(ctx, d.guard, key, func(ctx context.Context) (Sent, error) {
		return d.send(ctx, orderID, evt)
	})
	d.metrics.RecordNotification(ctx, d.cfg.Kind, res.Replayed, err)
	if err != nil {
		return nil, err
	}

	observability.LogNotification(d.logger, d.cfg.Kind, orderID, d.cfg.Topic, res.Replayed)

	if d.cfg.FollowUpType == "" {
		return nil, nil
	}
	detail := evt.Clone().Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detail["orderId"] = orderID
	detail["messageId"] = res.Value.MessageID
	followUp := event.NewFromParent(evt, d.cfg.Source, d.cfg.FollowUpType, detail,
		event.WithEventID(res.Value.FollowUpID))
	return []event.Event{followUp}, nil
}

func (d *Dispatcher) send(ctx context.Context, orderID string, evt event.Event) (Sent, error) {
	msg, err := d.cfg.Render(evt)
	if err != nil {
		return Sent{}, oferrors.Permanent(fmt.Errorf("render %s notification: %w", d.cfg.Kind, err), "dispatch "+d.cfg.Kind)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Key == "" {
		msg.Key = orderID
	}
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	msg.Headers["detail-type"] = evt.DetailType
	msg.Headers["correlation-id"] = evt.CorrelationID

	if err := d.publisher.Publish(ctx, d.cfg.Topic, msg); err != nil {
		return Sent{}, oferrors.Transient(
			&NotificationError{OrderID: orderID, Topic: d.cfg.Topic, Err: err}, "dispatch "+d.cfg.Kind)
	}

	sent := Sent{
		MessageID: msg.ID,
		Topic:     d.cfg.Topic,
		SentAt:    d.now().UTC(),
	}
	if d.cfg.FollowUpType != "" {
		sent.FollowUpID = uuid.NewString()
	}
	return sent, nil
}

// RenderDetail renders the event detail as a JSON message body.
func RenderDetail(evt event.Event) (Message, error) {
	body, err := json.Marshal(evt.Detail)
	if err != nil {
		return Message{}, err
	}
	return Message{Body: body}, nil
}
