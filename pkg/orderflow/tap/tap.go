package tap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/orderflow/pkg/orderflow/config"
	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

// RuleName is the bus rule name used by Install.
const RuleName = "test-observation-tap"

// ErrProductionStage indicates Install was refused because the settings
// do not allow a tap.
var ErrProductionStage = errors.New("test observation tap is not allowed on this stage")

// Options configures Install.
type Options struct {
	// DetailTypes narrows the mirror. Empty mirrors every event from the
	// configured source.
	DetailTypes []string

	Queue QueueConfig

	// Logger records installation. Default: slog.Default()
	Logger *slog.Logger
}

// Tap is an installed observation tap.
type Tap struct {
	*Queue
	sub event.Subscription
}

// Install subscribes the tap rule to bus. It returns ErrProductionStage
// when settings.TapEnabled() is false.
func Install(bus event.Bus, settings config.Settings, opts Options) (*Tap, error) {
	if !settings.TapEnabled() {
		return nil, fmt.Errorf("stage %q: %w", settings.Stage, ErrProductionStage)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := NewQueue(opts.Queue)
	pattern := event.SourcePattern(settings.EventSource)
	pattern.DetailType = opts.DetailTypes

	noRetry := oferrors.NoRetry
	sub, err := bus.Subscribe(event.Rule{
		Name:    RuleName,
		Pattern: pattern,
		Target: event.HandlerFunc(func(_ context.Context, evt event.Event) ([]event.Event, error) {
			return nil, q.Push(evt)
		}),
		// Tap failures never reach the bus fallback.
		Retry:    &noRetry,
		Fallback: dropFallback(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("install tap: %w", err)
	}

	logger.Info("test observation tap installed",
		slog.String("rule", RuleName),
		slog.String("stage", settings.Stage),
		slog.String("source", settings.EventSource),
		slog.Any("detail_types", opts.DetailTypes),
	)
	return &Tap{Queue: q, sub: sub}, nil
}

// dropFallback logs and discards tap deliveries that could not be stored.
func dropFallback(logger *slog.Logger) event.Fallback {
	return event.FallbackFunc(func(_ context.Context, failed *event.FailedDelivery) error {
		logger.Warn("test observation tap dropped event",
			slog.String("rule", failed.Rule),
			slog.String("event_id", failed.Event.ID),
			slog.String("detail_type", failed.Event.DetailType),
			slog.String("error", failed.Error),
		)
		return nil
	})
}

// Remove unsubscribes the rule and closes the queue. Deliveries still
// queued for the rule are dropped.
func (t *Tap) Remove() error {
	t.sub.Unsubscribe()
	return t.Queue.Close()
}
