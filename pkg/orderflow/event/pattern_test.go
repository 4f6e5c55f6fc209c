package event_test

import (
	"testing"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

func TestMatches(t *testing.T) {
	placed := event.New("big-mouth", "order_placed", map[string]any{"orderId": "o1", "restaurantId": "r1", "total": 12})
	notified := event.New("big-mouth", "restaurant_notified", map[string]any{"orderId": "o1"})
	foreign := event.New("other", "order_placed", nil)

	tests := []struct {
		name    string
		pattern event.Pattern
		evt     event.Event
		want    bool
	}{
		{"empty pattern matches everything", event.Pattern{}, foreign, true},
		{"source only matches broadly", event.SourcePattern("big-mouth"), notified, true},
		{"source only rejects other source", event.SourcePattern("big-mouth"), foreign, false},
		{"source and type match", event.TypePattern("big-mouth", "order_placed"), placed, true},
		{"type not in set", event.TypePattern("big-mouth", "order_placed"), notified, false},
		{"type set membership", event.TypePattern("big-mouth", "order_placed", "restaurant_notified"), notified, true},
		{"source mismatch with type match", event.TypePattern("big-mouth", "order_placed"), foreign, false},
		{"type only", event.Pattern{DetailType: []string{"order_placed"}}, foreign, true},
		{"multiple sources", event.SourcePattern("a", "other"), foreign, true},
		{
			"detail field match",
			event.Pattern{Source: []string{"big-mouth"}, Detail: map[string][]string{"restaurantId": {"r1", "r2"}}},
			placed, true,
		},
		{
			"detail field mismatch",
			event.Pattern{Detail: map[string][]string{"restaurantId": {"r9"}}},
			placed, false,
		},
		{
			"detail field missing",
			event.Pattern{Detail: map[string][]string{"restaurantId": {"r1"}}},
			notified, false,
		},
		{
			"numeric detail rendered",
			event.Pattern{Detail: map[string][]string{"total": {"12"}}},
			placed, true,
		},
		{
			"empty detail set is wildcard",
			event.Pattern{Detail: map[string][]string{"restaurantId": {}}},
			notified, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := event.Matches(tt.pattern, tt.evt); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
			if got := tt.pattern.Matches(tt.evt); got != tt.want {
				t.Errorf("Pattern.Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
