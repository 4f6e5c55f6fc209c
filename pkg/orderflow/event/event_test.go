package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

func TestNew(t *testing.T) {
	detail := map[string]any{"orderId": "o1", "items": []any{"pizza"}}
	evt := event.New("big-mouth", "order_placed", detail)

	if evt.ID == "" {
		t.Error("expected non-empty ID")
	}
	if evt.Source != "big-mouth" {
		t.Errorf("expected source big-mouth, got %s", evt.Source)
	}
	if evt.DetailType != "order_placed" {
		t.Errorf("expected detail type order_placed, got %s", evt.DetailType)
	}
	if evt.CorrelationID != evt.ID {
		t.Error("expected correlation ID to equal event ID for root event")
	}
	if evt.CausationID != "" {
		t.Errorf("expected empty causation ID, got %s", evt.CausationID)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	// The caller's map must not alias the event detail.
	detail["orderId"] = "changed"
	if id, _ := evt.String("orderId"); id != "o1" {
		t.Errorf("detail aliased caller map, orderId = %s", id)
	}
}

func TestNewWithOptions(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	evt := event.New("big-mouth", "order_placed", nil,
		event.WithEventID("evt-1"),
		event.WithCorrelationID("corr-1"),
		event.WithCausationID("cause-1"),
		event.WithTimestamp(ts),
	)

	if evt.ID != "evt-1" || evt.CorrelationID != "corr-1" || evt.CausationID != "cause-1" {
		t.Errorf("options not applied: %+v", evt)
	}
	if !evt.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, evt.Timestamp)
	}
	if evt.Detail == nil {
		t.Error("expected empty, non-nil detail")
	}
}

func TestNewFromParent(t *testing.T) {
	parent := event.New("big-mouth", "order_placed", map[string]any{"orderId": "o1"})
	child := event.NewFromParent(parent, "big-mouth", "restaurant_notified", map[string]any{"orderId": "o1"})

	if child.CorrelationID != parent.CorrelationID {
		t.Errorf("expected correlation %s, got %s", parent.CorrelationID, child.CorrelationID)
	}
	if child.CausationID != parent.ID {
		t.Errorf("expected causation %s, got %s", parent.ID, child.CausationID)
	}
	if child.ID == parent.ID {
		t.Error("child must have its own ID")
	}
}

func TestClone(t *testing.T) {
	evt := event.New("big-mouth", "order_placed", map[string]any{
		"orderId": "o1",
		"payload": map[string]any{"restaurantId": "r1"},
	})

	clone := evt.Clone()
	clone.Detail["orderId"] = "o2"
	clone.Detail["payload"].(map[string]any)["restaurantId"] = "r2"

	if id, _ := evt.String("orderId"); id != "o1" {
		t.Errorf("clone mutated original orderId: %s", id)
	}
	if got := evt.Detail["payload"].(map[string]any)["restaurantId"]; got != "r1" {
		t.Errorf("clone mutated nested detail: %v", got)
	}
}

func TestString(t *testing.T) {
	evt := event.New("big-mouth", "order_placed", map[string]any{
		"orderId": "o1",
		"count":   2,
		"empty":   "",
	})

	if v, ok := evt.String("orderId"); !ok || v != "o1" {
		t.Errorf("String(orderId) = %q, %v", v, ok)
	}
	if _, ok := evt.String("count"); ok {
		t.Error("non-string value should not be returned")
	}
	if _, ok := evt.String("empty"); ok {
		t.Error("empty string should be reported missing")
	}
	if _, ok := evt.String("missing"); ok {
		t.Error("missing key should be reported missing")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		evt     event.Event
		wantErr bool
	}{
		{"valid", event.New("big-mouth", "order_placed", nil), false},
		{"missing source", event.Event{DetailType: "order_placed"}, true},
		{"missing detail type", event.Event{Source: "big-mouth"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventJSON(t *testing.T) {
	evt := event.New("big-mouth", "order_placed", map[string]any{"orderId": "o1"})
	evt.BusName = "big-mouth-dev-order-events"

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded event.Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != evt.ID || decoded.BusName != evt.BusName || decoded.DetailType != evt.DetailType {
		t.Errorf("decoded = %+v, want %+v", decoded, evt)
	}
	if id, _ := decoded.String("orderId"); id != "o1" {
		t.Errorf("decoded orderId = %s", id)
	}
}
