package orderflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultWorkflow(t *testing.T) *Workflow {
	t.Helper()
	def, err := DefaultDefinition(template.Map(nil))
	require.NoError(t, err)
	wf, err := Compile(def)
	require.NoError(t, err)
	return wf
}

func testPayload() order.Payload {
	return order.Payload{
		RestaurantID: "r1",
		UserID:       "u1",
		Items:        []order.Item{{Name: "burger", Quantity: 2}},
	}
}

func notified(orderID, detailType string) event.Event {
	return event.New(order.EventSource, detailType, map[string]any{"orderId": orderID})
}

// recordingPublisher captures every event the engine publishes.
type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) published() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event(nil), p.events...)
}

func (p *recordingPublisher) ofType(detailType string) []event.Event {
	var out []event.Event
	for _, e := range p.published() {
		if e.DetailType == detailType {
			out = append(out, e)
		}
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

// faultyStore wraps an order.Store and injects failures.
type faultyStore struct {
	order.Store

	mu          sync.Mutex
	createErr   error
	updateErrs  []error // consumed one per Update call
	getErr      error
	beforeWrite func()
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: order.NewMemoryStore()}
}

func (s *faultyStore) failUpdates(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErrs = append(s.updateErrs, errs...)
}

func (s *faultyStore) Create(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	err := s.createErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Create(ctx, o)
}

func (s *faultyStore) Get(ctx context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, id)
}

func (s *faultyStore) Update(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	hook := s.beforeWrite
	s.beforeWrite = nil
	var err error
	if len(s.updateErrs) > 0 {
		err = s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	return s.Store.Update(ctx, o)
}

// testLogHandler captures log records for testing.
type testLogHandler struct {
	mu    *sync.Mutex
	buf   *bytes.Buffer
	attrs []slog.Attr
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{mu: &sync.Mutex{}, buf: &bytes.Buffer{}}
}

func (h *testLogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &testLogHandler{mu: h.mu, buf: h.buf, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *testLogHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *testLogHandler) records(msg string) []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []map[string]any
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil && (msg == "" || m["msg"] == msg) {
			out = append(out, m)
		}
	}
	return out
}

// spanRecorder is a SpanManager that records span names and errors.
type spanRecorder struct {
	mu     sync.Mutex
	starts []string
	errs   []error
}

func (r *spanRecorder) StartDeliverySpan(ctx context.Context, rule, _, _ string) (context.Context, trace.Span) {
	return r.start(ctx, "deliver."+rule)
}

func (r *spanRecorder) StartTransitionSpan(ctx context.Context, _, state string) (context.Context, trace.Span) {
	return r.start(ctx, "state."+state)
}

func (r *spanRecorder) start(ctx context.Context, name string) (context.Context, trace.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, name)
	_, span := noop.NewTracerProvider().Tracer("test").Start(ctx, name)
	return ctx, span
}

func (r *spanRecorder) EndSpanWithError(_ trace.Span, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *spanRecorder) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}
