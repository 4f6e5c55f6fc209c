package event

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvents extension attribute names. Extension names must be lower
// case alphanumerics.
const (
	extBusName       = "busname"
	extCorrelationID = "correlationid"
	extCausationID   = "causationid"
)

// ToCloudEvent converts an Event into a CloudEvents v1.0 event. The
// detail type becomes the CloudEvents type and the detail becomes JSON data.
func ToCloudEvent(evt Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(evt.ID)
	ce.SetSource(evt.Source)
	ce.SetType(evt.DetailType)
	if !evt.Timestamp.IsZero() {
		ce.SetTime(evt.Timestamp)
	}
	if evt.BusName != "" {
		ce.SetExtension(extBusName, evt.BusName)
	}
	if evt.CorrelationID != "" {
		ce.SetExtension(extCorrelationID, evt.CorrelationID)
	}
	if evt.CausationID != "" {
		ce.SetExtension(extCausationID, evt.CausationID)
	}

	detail := evt.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, detail); err != nil {
		return ce, fmt.Errorf("set data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("invalid cloudevent: %w", err)
	}
	return ce, nil
}

// FromCloudEvent converts a CloudEvents event back into an Event.
func FromCloudEvent(ce cloudevents.Event) (Event, error) {
	if err := ce.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid cloudevent: %w", err)
	}

	evt := Event{
		ID:         ce.ID(),
		Source:     ce.Source(),
		DetailType: ce.Type(),
		Timestamp:  ce.Time().UTC(),
		Detail:     map[string]any{},
	}

	ext := ce.Extensions()
	if v, ok := ext[extBusName].(string); ok {
		evt.BusName = v
	}
	if v, ok := ext[extCorrelationID].(string); ok {
		evt.CorrelationID = v
	}
	if v, ok := ext[extCausationID].(string); ok {
		evt.CausationID = v
	}

	if len(ce.Data()) > 0 {
		if err := ce.DataAs(&evt.Detail); err != nil {
			return Event{}, fmt.Errorf("decode detail: %w", err)
		}
	}
	return evt, nil
}

// MarshalCloudEvent encodes an Event in CloudEvents structured JSON form.
func MarshalCloudEvent(evt Event) ([]byte, error) {
	ce, err := ToCloudEvent(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ce)
}

// UnmarshalCloudEvent decodes CloudEvents structured JSON into an Event.
func UnmarshalCloudEvent(data []byte) (Event, error) {
	var ce cloudevents.Event
	if err := json.Unmarshal(data, &ce); err != nil {
		return Event{}, fmt.Errorf("decode cloudevent: %w", err)
	}
	return FromCloudEvent(ce)
}
