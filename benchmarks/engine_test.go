package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/orderflow/pkg/orderflow"
	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, event.Event) error { return nil }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWorkflow(b *testing.B) *orderflow.Workflow {
	b.Helper()
	def, err := orderflow.DefaultDefinition(template.Map(nil))
	if err != nil {
		b.Fatal(err)
	}
	wf, err := orderflow.Compile(def)
	if err != nil {
		b.Fatal(err)
	}
	return wf
}

var payload = order.Payload{RestaurantID: "r1", UserID: "u1", Items: []order.Item{{Name: "burger", Quantity: 1}}}

// BenchmarkCompile_DefaultFlow compiles the embedded order flow.
func BenchmarkCompile_DefaultFlow(b *testing.B) {
	def, err := orderflow.DefaultDefinition(template.Map(nil))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = orderflow.Compile(def)
	}
}

// BenchmarkEngine_Start stores an order and publishes order_placed.
func BenchmarkEngine_Start(b *testing.B) {
	engine := orderflow.NewEngine(mustWorkflow(b), order.NewMemoryStore(), discardPublisher{}, orderflow.WithLogger(quiet()))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Start(ctx, payload); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEngine_Lifecycle drives one order from placed to complete.
func BenchmarkEngine_Lifecycle(b *testing.B) {
	engine := orderflow.NewEngine(mustWorkflow(b), order.NewMemoryStore(), discardPublisher{}, orderflow.WithLogger(quiet()))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("o-%d", i)
		if _, err := engine.Start(ctx, payload, orderflow.WithOrderID(id)); err != nil {
			b.Fatal(err)
		}
		for _, dt := range []string{order.DetailRestaurantNotified, order.DetailUserNotified} {
			evt := event.New(order.EventSource, dt, map[string]any{"orderId": id})
			if _, err := engine.Handle(ctx, evt); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkEngine_StaleEvent measures ignoring a duplicate event.
func BenchmarkEngine_StaleEvent(b *testing.B) {
	engine := orderflow.NewEngine(mustWorkflow(b), order.NewMemoryStore(), discardPublisher{}, orderflow.WithLogger(quiet()))
	ctx := context.Background()
	if _, err := engine.Start(ctx, payload, orderflow.WithOrderID("o")); err != nil {
		b.Fatal(err)
	}
	evt := event.New(order.EventSource, order.DetailRestaurantNotified, map[string]any{"orderId": "o"})
	if _, err := engine.Handle(ctx, evt); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.Handle(ctx, evt)
	}
}
