// Package order defines the order model and its durable storage.
//
// Orders are created and mutated only by the workflow engine. Every update is
// guarded by an optimistic version check so concurrent handlers for the same
// order cannot overwrite each other.
package order

import (
	"errors"
	"fmt"
	"time"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
)

// Event schema shared by every producer and consumer on the order bus.
const (
	EventSource = "big-mouth"

	DetailOrderPlaced        = "order_placed"
	DetailRestaurantNotified = "restaurant_notified"
	DetailUserNotified       = "user_notified"
)

// Stage is a lifecycle state of an order.
type Stage string

// Order stages in lifecycle order.
const (
	StagePlaced              Stage = "placed"
	StageRestaurantNotifying Stage = "restaurant_notifying"
	StageRestaurantNotified  Stage = "restaurant_notified"
	StageUserNotifying       Stage = "user_notifying"
	StageComplete            Stage = "complete"
	StageFailed              Stage = "failed"
)

var stageRank = map[Stage]int{
	StagePlaced:              1,
	StageRestaurantNotifying: 2,
	StageRestaurantNotified:  3,
	StageUserNotifying:       4,
	StageComplete:            5,
	StageFailed:              5,
}

// Rank orders stages along the lifecycle. Unknown stages rank 0.
// Terminal stages share the highest rank.
func (s Stage) Rank() int {
	return stageRank[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Item is one line of an order.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Payload is what the customer placed.
type Payload struct {
	Items        []Item `json:"items,omitempty"`
	RestaurantID string `json:"restaurantId"`
	UserID       string `json:"userId"`
}

// Validate checks that the payload can be routed to a restaurant and a user.
func (p Payload) Validate() error {
	var errs []error
	if p.RestaurantID == "" {
		errs = append(errs, &oferrors.ValidationError{Field: "restaurantId", Message: "is required"})
	}
	if p.UserID == "" {
		errs = append(errs, &oferrors.ValidationError{Field: "userId", Message: "is required"})
	}
	for i, item := range p.Items {
		if item.Quantity < 0 {
			errs = append(errs, &oferrors.ValidationError{
				Field:   "items",
				Message: fmt.Sprintf("item %d (%s) has negative quantity", i, item.Name),
			})
		}
	}
	return errors.Join(errs...)
}

// Transition is one entry of an order's append-only history.
type Transition struct {
	From  Stage     `json:"from"`
	To    Stage     `json:"to"`
	Event string    `json:"event,omitempty"`
	At    time.Time `json:"at"`
}

// Order is the durable workflow instance.
type Order struct {
	ID            string       `json:"orderId"`
	PlacedAt      time.Time    `json:"placedAt"`
	Stage         Stage        `json:"stage"`
	Payload       Payload      `json:"payload"`
	Version       int          `json:"version"`
	History       []Transition `json:"history,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// New returns an order in the placed stage.
func New(id string, payload Payload, placedAt time.Time) *Order {
	return &Order{
		ID:        id,
		PlacedAt:  placedAt,
		Stage:     StagePlaced,
		Payload:   payload,
		UpdatedAt: placedAt,
	}
}

// Advance moves the order to stage to and appends the history entry.
// It does not persist anything.
func (o *Order) Advance(to Stage, eventType string, at time.Time) {
	o.History = append(o.History, Transition{From: o.Stage, To: to, Event: eventType, At: at})
	o.Stage = to
	o.UpdatedAt = at
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Payload.Items != nil {
		c.Payload.Items = append([]Item(nil), o.Payload.Items...)
	}
	if o.History != nil {
		c.History = append([]Transition(nil), o.History...)
	}
	return &c
}

// Detail renders the order fields carried on bus events.
func (o *Order) Detail() map[string]any {
	items := make([]any, 0, len(o.Payload.Items))
	for _, item := range o.Payload.Items {
		items = append(items, map[string]any{"name": item.Name, "quantity": item.Quantity})
	}
	return map[string]any{
		"orderId":      o.ID,
		"restaurantId": o.Payload.RestaurantID,
		"userId":       o.Payload.UserID,
		"items":        items,
	}
}

