package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/orderflow/pkg/orderflow/observability"
	"github.com/randalmurphal/orderflow/pkg/orderflow/registry"
)

// Status is the last evaluation of one alarm.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Value     float64   `json:"value"`
	HasData   bool      `json:"hasData"`
	Threshold float64   `json:"threshold"`
	ChangedAt time.Time `json:"changedAt"`
	// Notified is false when the breach notification failed to send.
	Notified bool `json:"notified"`
}

// Breaching reports whether the alarm is in ALARM.
func (s Status) Breaching() bool {
	return s.State == StateAlarm
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records alarm state gauges.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(w *Watcher) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// Watcher evaluates registered alarms. Evaluate is safe to call from
// multiple goroutines; evaluations are serialized.
type Watcher struct {
	notifier Notifier
	alarms   *registry.Registry[string, Alarm]

	mu     sync.Mutex
	status map[string]Status

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time
}

// NewWatcher creates a watcher that notifies through notifier.
//
// Panics if notifier is nil.
func NewWatcher(notifier Notifier, opts ...Option) *Watcher {
	if notifier == nil {
		panic("alerting: notifier cannot be nil")
	}
	w := &Watcher{
		notifier: notifier,
		alarms:   registry.New[string, Alarm](),
		status:   make(map[string]Status),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ErrInvalidAlarm is returned by Add for an alarm without a name or source.
var ErrInvalidAlarm = errors.New("invalid alarm")

// Add registers an alarm. It starts in OK.
func (w *Watcher) Add(a Alarm) error {
	if a.Name == "" || a.Source == nil {
		return fmt.Errorf("%w: name and source are required", ErrInvalidAlarm)
	}
	if err := w.alarms.Add(a.Name, a); err != nil {
		return err
	}
	w.mu.Lock()
	w.status[a.Name] = Status{Name: a.Name, State: StateOK, Threshold: a.Threshold, ChangedAt: w.now()}
	w.mu.Unlock()
	return nil
}

// MustAdd is like Add but panics on error.
func (w *Watcher) MustAdd(a Alarm) {
	if err := w.Add(a); err != nil {
		panic(err)
	}
}

// Evaluate reads every alarm once, updates its state and notifies on each
// transition into ALARM. Notification errors are logged and recorded in
// Status.Notified; they do not stop evaluation.
func (w *Watcher) Evaluate(ctx context.Context) []Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	alarms := w.alarms.Values()
	out := make([]Status, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, w.evaluate(ctx, a))
	}
	return out
}

func (w *Watcher) evaluate(ctx context.Context, a Alarm) Status {
	value, ok, err := a.Source(ctx)
	if err != nil {
		w.logger.Warn("alarm source failed, treating as missing data",
			slog.String("alarm", a.Name),
			slog.String("error", err.Error()),
		)
		value, ok = 0, false
	}

	state := StateOK
	if ok && value > a.Threshold {
		state = StateAlarm
	}

	prev := w.status[a.Name]
	cur := Status{
		Name:      a.Name,
		State:     state,
		Value:     value,
		HasData:   ok,
		Threshold: a.Threshold,
		ChangedAt: prev.ChangedAt,
		Notified:  prev.Notified,
	}

	if state != prev.State {
		cur.ChangedAt = w.now()
		observability.LogAlarm(w.logger, a.Name, string(state), value)
		if state == StateAlarm {
			cur.Notified = w.notify(ctx, a, cur)
		}
	}

	w.metrics.RecordAlarmState(ctx, a.Name, state == StateAlarm)
	w.status[a.Name] = cur
	return cur
}

type alarmMessage struct {
	Alarm       string    `json:"alarm"`
	State       State     `json:"state"`
	Description string    `json:"description,omitempty"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	At          time.Time `json:"at"`
}

func (w *Watcher) notify(ctx context.Context, a Alarm, st Status) bool {
	body, err := json.Marshal(alarmMessage{
		Alarm:       a.Name,
		State:       st.State,
		Description: a.Description,
		Value:       st.Value,
		Threshold:   a.Threshold,
		At:          st.ChangedAt,
	})
	if err != nil {
		w.logger.Error("alarm message encoding failed", slog.String("alarm", a.Name), slog.String("error", err.Error()))
		return false
	}
	if err := w.notifier.Notify(ctx, a.Channel, string(body)); err != nil {
		w.logger.Error("alarm notification failed",
			slog.String("alarm", a.Name),
			slog.String("channel", a.Channel),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Status returns the last evaluation of an alarm.
func (w *Watcher) Status(name string) (Status, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.status[name]
	return st, ok
}

// Statuses returns the last evaluation of every alarm in registration order.
func (w *Watcher) Statuses() []Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := w.alarms.Keys()
	out := make([]Status, 0, len(names))
	for _, n := range names {
		out = append(out, w.status[n])
	}
	return out
}

// Run evaluates every period until ctx is done.
func (w *Watcher) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("alerting: period must be positive, got %s", period)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Evaluate(ctx)
		}
	}
}
