package event_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) event.MiddlewareFunc {
		return func(next event.Handler) event.Handler {
			return event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
				order = append(order, name)
				return next.Handle(ctx, evt)
			})
		}
	}

	h := event.ChainMiddleware(event.HandlerFunc(func(context.Context, event.Event) ([]event.Event, error) {
		order = append(order, "handler")
		return nil, nil
	}), mw("outer"), mw("inner"))

	h.Handle(context.Background(), event.New("big-mouth", "order_placed", nil))

	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := event.ChainMiddleware(event.HandlerFunc(func(context.Context, event.Event) ([]event.Event, error) {
		panic("nil restaurant")
	}), event.RecoveryMiddleware())

	_, err := h.Handle(context.Background(), event.New("big-mouth", "order_placed", nil))
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if !oferrors.IsPermanent(err) {
		t.Errorf("recovered panic should be permanent, got %v", err)
	}
	if !strings.Contains(err.Error(), "nil restaurant") {
		t.Errorf("error should carry panic value: %v", err)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := event.ChainMiddleware(event.HandlerFunc(func(context.Context, event.Event) ([]event.Event, error) {
		return nil, errors.New("boom")
	}), event.LoggingMiddleware(logger, "notify-user"))

	h.Handle(context.Background(), event.New("big-mouth", "restaurant_notified", nil))

	out := buf.String()
	if !strings.Contains(out, "handler failed") || !strings.Contains(out, "rule=notify-user") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	parent := event.New("big-mouth", "order_placed", nil)
	h := event.ChainMiddleware(event.HandlerFunc(func(context.Context, event.Event) ([]event.Event, error) {
		return []event.Event{event.New("big-mouth", "restaurant_notified", nil)}, nil
	}), event.CorrelationMiddleware())

	derived, err := h.Handle(context.Background(), parent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if derived[0].CorrelationID != parent.CorrelationID || derived[0].CausationID != parent.ID {
		t.Errorf("correlation not stamped: %+v", derived[0])
	}
}
