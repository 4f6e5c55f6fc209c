/*
Package orderflow drives orders through a declarative, event-driven
workflow.

# Overview

A workflow is a graph of named states. Each state name is also the stage
stored on the order while it sits there:

	placed -> restaurant_notifying -> restaurant_notified -> user_notifying -> complete
	                                                                  \-> failed

State types decide what the engine does on entry:

  - task publishes an event, then moves to Next
  - wait holds the order until an event listed in On arrives
  - pass moves to Next immediately
  - succeed and fail end the workflow

Side effects such as notifying a restaurant are not performed by the
engine. They are bus targets (see package dispatch) that react to the
events task states publish and report back with follow-up events the
wait states consume.

# Basic Usage

	wf, err := orderflow.DefaultWorkflow()
	if err != nil {
	    log.Fatal(err)
	}

	bus := event.NewBus(event.BusConfig{Name: "big-mouth-dev-order-events", Fallback: failures})
	engine := orderflow.NewEngine(wf, order.NewMemoryStore(), bus)
	if _, err := bus.Subscribe(engine.Rule()); err != nil {
	    log.Fatal(err)
	}

	o, err := engine.Start(ctx, order.Payload{RestaurantID: "r1", UserID: "u1"})

# Definitions

Definitions are built in code or loaded from YAML with ${VAR:-default}
substitution:

	def, err := orderflow.LoadDefinitionFile("flows/order.yaml", template.Env)
	wf, err := orderflow.Compile(def)

Compile rejects definitions with missing targets, cycles, or states that
cannot reach a terminal state. Transition guards are expr expressions over
detail.*, order.* and event.*:

	on:
	  - event: restaurant_notified
	    when: detail.orderId != '' and order.itemCount > 0
	    next: restaurant_notified

# Ordering and Recovery

Every transition is persisted with an optimistic version check before the
next event is published. A persistence failure returns an error matching
ErrWorkflowPersistenceFailed and nothing is published. Orders stopped in a
task state are re-run by Resume or ResumeAll; the re-published event keeps
the same ID.

Stages only move forward. An event for a later state yields
ErrTransitionNotReady (transient, so the bus redelivers it) and an event
for an earlier or terminal state is ignored.
*/
package orderflow
