// Package event provides the event bus that routes order events between
// producers and handlers.
//
// # Events
//
// An Event carries a source, a detail type and an opaque JSON-like detail:
//
//	evt := event.New("big-mouth", "order_placed", map[string]any{"orderId": "o1"})
//
// Events derived from another event keep its correlation ID and record it
// as their cause:
//
//	next := event.NewFromParent(evt, "big-mouth", "restaurant_notified", detail)
//
// # Patterns
//
// A Pattern lists allowed values per field. Matching is set membership per
// declared field, ANDed across fields; undeclared fields are wildcards.
// Matches is a pure function so it can be tested without a bus:
//
//	p := event.TypePattern("big-mouth", "order_placed")
//	event.Matches(p, evt) // true
//
// # Rules and delivery
//
// A Rule binds a Pattern to a target Handler. Publish only enqueues; each
// rule has its own queue and delivery goroutines, so a slow or failing
// target never delays another rule. Each delivery is retried with bounded
// exponential backoff. When retries are exhausted the event and its
// failure context are handed to the rule's Fallback. If that handoff fails
// too, the bus counts a handoff failure and calls OnHandoffFailure.
//
//	bus := event.NewBus(event.BusConfig{Name: "orders", Fallback: queue})
//	bus.Subscribe(event.Rule{
//	    Name:    "notify-restaurant",
//	    Pattern: event.TypePattern("big-mouth", "order_placed"),
//	    Target:  dispatcher,
//	})
//
// Handlers may return derived events, which the bus publishes after the
// delivery succeeds. The bus does no transport-level deduplication;
// handlers with side effects guard themselves with an idempotency key.
//
// # CloudEvents
//
// ToCloudEvent and FromCloudEvent convert to and from CloudEvents v1.0 for
// external inspection and ingestion.
package event
