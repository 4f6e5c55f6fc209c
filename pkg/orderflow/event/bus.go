package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/observability"
	"github.com/randalmurphal/orderflow/pkg/orderflow/registry"
)

// Bus accepts events and delivers them to every rule whose pattern matches.
type Bus interface {
	// Publish enqueues one delivery per matching rule and returns without
	// waiting for any target.
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers a rule.
	Subscribe(rule Rule) (Subscription, error)

	// Close stops accepting events, drains queued deliveries and shuts
	// down every rule.
	Close() error
}

// Subscription represents an active rule.
type Subscription interface {
	// Name returns the rule name.
	Name() string

	// Unsubscribe removes the rule. Deliveries already queued still run.
	Unsubscribe()
}

// Rule binds a pattern to a target.
type Rule struct {
	// Name identifies the rule on the bus. Required and unique.
	Name string

	// Pattern selects the events delivered to Target.
	Pattern Pattern

	// Target receives matching events. Required.
	Target Handler

	// Retry overrides the bus delivery retry policy. A nil RetryableFunc
	// retries every error not explicitly classified as permanent.
	Retry *oferrors.RetryConfig

	// Fallback receives deliveries that exhaust their retries.
	// Default: BusConfig.Fallback.
	Fallback Fallback

	// MaxConcurrency bounds parallel deliveries for this rule.
	// Default: BusConfig.MaxConcurrency.
	MaxConcurrency int

	// Timeout bounds each delivery attempt. Default: 0 (none).
	Timeout time.Duration

	// Middleware wraps Target, first middleware outermost.
	Middleware []MiddlewareFunc
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// Name is stamped on every published event as BusName.
	Name string

	// BufferSize is the queued delivery capacity per rule.
	// Default: 256
	BufferSize int

	// MaxConcurrency bounds parallel deliveries per rule.
	// Default: 8
	MaxConcurrency int

	// Retry is the delivery retry policy for rules that set none.
	// Default: errors.DeliveryRetry
	Retry oferrors.RetryConfig

	// HandoffRetry is the retry policy for writing to a fallback.
	// Default: 3 attempts starting at 10ms.
	HandoffRetry oferrors.RetryConfig

	// Fallback is used by rules that set none.
	Fallback Fallback

	// CloseTimeout bounds how long Close waits for deliveries to drain.
	// Default: 5s
	CloseTimeout time.Duration

	// Logger receives structured bus logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records delivery metrics. Default: observability.NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces deliveries. Default: observability.NoopSpanManager.
	Spans observability.SpanManager

	// OnError is called when a delivery exhausts its retries.
	OnError func(evt Event, rule string, err error)

	// OnHandoffFailure is the secondary path for deliveries that could not
	// be written to their fallback. The handoff-failure counter in Stats is
	// incremented before it is called.
	OnHandoffFailure func(ctx context.Context, err *HandoffError)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	BufferSize:     256,
	MaxConcurrency: 8,
	Retry:          oferrors.DeliveryRetry,
	HandoffRetry: oferrors.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
		RetryableFunc:  oferrors.RetryUnlessPermanent,
	},
	CloseTimeout: 5 * time.Second,
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published       int64 `json:"published"`
	Delivered       int64 `json:"delivered"`
	Failed          int64 `json:"failed"`
	Captured        int64 `json:"captured"`
	HandoffFailures int64 `json:"handoffFailures"`
	Overflowed      int64 `json:"overflowed"`
	Pending         int64 `json:"pending"`
	Rules           int   `json:"rules"`
}

// LocalBus is an in-memory event bus implementation.
type LocalBus struct {
	config BusConfig
	logger *slog.Logger

	// mu orders publishers against subscription shutdown; subs keeps
	// registration order for deterministic fan-out.
	mu   sync.RWMutex
	subs *registry.Registry[string, *subscription]

	pending         atomic.Int64
	published       atomic.Int64
	delivered       atomic.Int64
	failed          atomic.Int64
	captured        atomic.Int64
	handoffFailures atomic.Int64
	overflowed      atomic.Int64

	closed atomic.Bool
}

// NewBus creates a new local event bus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultBusConfig.MaxConcurrency
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultBusConfig.Retry
	}
	if config.Retry.RetryableFunc == nil {
		config.Retry.RetryableFunc = oferrors.RetryUnlessPermanent
	}
	if config.HandoffRetry.MaxAttempts <= 0 {
		config.HandoffRetry = DefaultBusConfig.HandoffRetry
	}
	if config.HandoffRetry.RetryableFunc == nil {
		config.HandoffRetry.RetryableFunc = oferrors.RetryUnlessPermanent
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultBusConfig.CloseTimeout
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}
	if config.Spans == nil {
		config.Spans = observability.NoopSpanManager{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LocalBus{
		config: config,
		logger: logger.With(slog.String("bus", config.Name)),
		subs:   registry.New[string, *subscription](),
	}
}

// subscription is an internal rule registration.
type subscription struct {
	rule       Rule
	handler    Handler
	retry      oferrors.RetryConfig
	fallback   Fallback
	weight     int64
	sem        *semaphore.Weighted
	deliveries chan delivery
	stopped    chan struct{}
	bus        *LocalBus
	once       sync.Once
}

type delivery struct {
	ctx context.Context
	evt Event
}

// Name returns the bus name.
func (b *LocalBus) Name() string {
	return b.config.Name
}

// Publish sends an event to all matching rules.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{Event: evt, Message: "publish rejected", Err: ErrBusClosed}
	}
	return b.publish(ctx, evt)
}

// publish enqueues deliveries. Derived events from in-flight deliveries
// use it directly so they are not rejected while the bus drains.
func (b *LocalBus) publish(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return &EventError{Event: evt, Message: "invalid event", Err: err}
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = evt.ID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.BusName = b.config.Name
	evt = evt.Clone()

	// Deliveries outlive the caller's request but keep its values (trace context).
	base := context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)
	matched := 0
	for _, sub := range b.subs.Values() {
		if !Matches(sub.rule.Pattern, evt) {
			continue
		}
		matched++
		b.pending.Add(1)

		select {
		case sub.deliveries <- delivery{ctx: base, evt: evt}:
		default:
			// Buffer full: capture instead of dropping.
			b.overflowed.Add(1)
			go func(sub *subscription) {
				defer b.pending.Add(-1)
				b.handoff(base, sub, evt, ErrBufferFull, 0)
			}(sub)
		}
	}

	observability.LogPublish(b.logger, evt.DetailType, evt.ID, matched)
	return nil
}

// Subscribe registers a rule and starts its delivery loop.
func (b *LocalBus) Subscribe(rule Rule) (Subscription, error) {
	if rule.Name == "" {
		return nil, &oferrors.ValidationError{Field: "name", Message: "rule name is required"}
	}
	if rule.Target == nil {
		return nil, &oferrors.ValidationError{Field: "target", Message: fmt.Sprintf("rule %s has no target", rule.Name)}
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	retry := b.config.Retry
	if rule.Retry != nil {
		retry = *rule.Retry
		if retry.RetryableFunc == nil {
			retry.RetryableFunc = oferrors.RetryUnlessPermanent
		}
	}
	fallback := rule.Fallback
	if fallback == nil {
		fallback = b.config.Fallback
	}
	weight := int64(rule.MaxConcurrency)
	if weight <= 0 {
		weight = int64(b.config.MaxConcurrency)
	}

	sub := &subscription{
		rule:       rule,
		handler:    ChainMiddleware(rule.Target, rule.Middleware...),
		retry:      retry,
		fallback:   fallback,
		weight:     weight,
		sem:        semaphore.NewWeighted(weight),
		deliveries: make(chan delivery, b.config.BufferSize),
		stopped:    make(chan struct{}),
		bus:        b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.subs.Add(rule.Name, sub); err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, ErrDuplicateRule)
	}

	go sub.process()

	return sub, nil
}

// Rules returns the names of registered rules in registration order.
func (b *LocalBus) Rules() []string {
	return b.subs.Keys()
}

// Drain blocks until every queued and in-flight delivery has finished,
// including deliveries of derived events.
func (b *LocalBus) Drain(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain: %d deliveries pending: %w", b.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stats returns a snapshot of bus counters.
func (b *LocalBus) Stats() Stats {
	return Stats{
		Published:       b.published.Load(),
		Delivered:       b.delivered.Load(),
		Failed:          b.failed.Load(),
		Captured:        b.captured.Load(),
		HandoffFailures: b.handoffFailures.Load(),
		Overflowed:      b.overflowed.Load(),
		Pending:         b.pending.Load(),
		Rules:           b.subs.Len(),
	}
}

// HandoffFailures returns the number of failed deliveries that could not
// be written to a fallback.
func (b *LocalBus) HandoffFailures() int64 {
	return b.handoffFailures.Load()
}

// Close shuts down the bus.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.CloseTimeout)
	defer cancel()
	drainErr := b.Drain(ctx)

	b.mu.Lock()
	subs := b.subs.Values()
	for _, sub := range subs {
		b.subs.Remove(sub.rule.Name)
		sub.stop()
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.stopped
	}

	return drainErr
}

// Name returns the rule name.
func (s *subscription) Name() string {
	return s.rule.Name
}

// Unsubscribe removes the rule.
func (s *subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	if current, ok := b.subs.Get(s.rule.Name); ok && current == s {
		b.subs.Remove(s.rule.Name)
	}
	s.stop()
	b.mu.Unlock()
}

// stop closes the delivery queue. Callers hold the bus write lock, so no
// publisher can be sending concurrently.
func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.deliveries)
	})
}

// process runs queued deliveries, at most weight at a time.
func (s *subscription) process() {
	defer close(s.stopped)

	ctx := context.Background()
	for d := range s.deliveries {
		// Acquire cannot fail with a background context.
		_ = s.sem.Acquire(ctx, 1)
		go func(d delivery) {
			defer s.sem.Release(1)
			s.bus.deliver(s, d)
		}(d)
	}

	// Wait for in-flight deliveries.
	_ = s.sem.Acquire(ctx, s.weight)
}

// deliver runs one delivery to completion: retries, then either derived
// publishes or a fallback handoff.
func (b *LocalBus) deliver(s *subscription, d delivery) {
	defer b.pending.Add(-1)

	name := s.rule.Name
	ctx, span := b.config.Spans.StartDeliverySpan(d.ctx, name, d.evt.DetailType, d.evt.ID)
	start := time.Now()

	retry := s.retry
	userOnRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		observability.LogDeliveryRetry(b.logger, name, d.evt.ID, attempt, wait, err)
		if userOnRetry != nil {
			userOnRetry(attempt, err, wait)
		}
	}

	result := oferrors.WithRetryContext(ctx, retry, func(ctx context.Context) ([]Event, error) {
		return s.invoke(ctx, d.evt)
	})

	b.config.Metrics.RecordDelivery(ctx, name, time.Since(start), result.Attempts, result.Err)
	b.config.Spans.EndSpanWithError(span, result.Err)

	if result.Err != nil {
		b.failed.Add(1)
		observability.LogDeliveryFailed(b.logger, name, d.evt.ID, result.Attempts, result.Err)
		if b.config.OnError != nil {
			b.config.OnError(d.evt, name, result.Err)
		}
		b.handoff(ctx, s, d.evt, result.Err, result.Attempts)
		return
	}

	b.delivered.Add(1)
	for _, derived := range result.Value {
		if err := b.publish(ctx, derived); err != nil {
			b.logger.Error("derived event rejected",
				slog.String("rule", name),
				slog.String("event_id", d.evt.ID),
				slog.String("error", err.Error()),
			)
			if b.config.OnError != nil {
				b.config.OnError(derived, name, err)
			}
		}
	}
}

// invoke calls the target once with its own copy of the event.
func (s *subscription) invoke(ctx context.Context, evt Event) ([]Event, error) {
	if s.rule.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.rule.Timeout)
		defer cancel()
	}
	return s.handler.Handle(ctx, evt.Clone())
}

// handoff records a failed delivery in the rule's fallback. When that
// fails too, the handoff-failure counter and OnHandoffFailure carry it.
func (b *LocalBus) handoff(ctx context.Context, s *subscription, evt Event, cause error, attempts int) {
	failed := NewFailedDelivery(evt, s.rule.Name, cause, attempts)

	var err error
	if s.fallback == nil {
		err = ErrNoFallback
	} else {
		result := oferrors.WithRetryContext(ctx, b.config.HandoffRetry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.fallback.Enqueue(ctx, failed)
		})
		err = result.Err
	}

	if err == nil {
		b.captured.Add(1)
		b.config.Metrics.RecordFailureCaptured(ctx, s.rule.Name)
		return
	}

	handoffErr := &HandoffError{Delivery: failed, Err: err}
	b.handoffFailures.Add(1)
	b.config.Metrics.RecordHandoffFailure(ctx, s.rule.Name)
	observability.LogHandoffFailure(b.logger, s.rule.Name, evt.ID, err)
	if b.config.OnHandoffFailure != nil {
		b.config.OnHandoffFailure(ctx, handoffErr)
	}
}
