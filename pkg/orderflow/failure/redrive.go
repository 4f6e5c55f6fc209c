package failure

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

// Publisher republishes events. *event.LocalBus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// Redrive republishes a captured event and removes its record.
//
// The event gets a fresh ID and keeps its correlation ID, with the original
// event as its cause. Every rule matching the event sees it again, so
// targets must tolerate redelivery. Notification dispatchers and the
// workflow engine do. The record is kept if the publish fails.
func Redrive(ctx context.Context, q Queue, pub Publisher, id string) (event.Event, error) {
	rec, err := q.Get(ctx, id)
	if err != nil {
		return event.Event{}, fmt.Errorf("redrive %s: %w", id, err)
	}

	evt := rec.Delivery.Event.Clone()
	evt.CausationID = evt.ID
	evt.ID = uuid.NewString()
	evt.BusName = ""

	if err := pub.Publish(ctx, evt); err != nil {
		return event.Event{}, fmt.Errorf("redrive %s: publish: %w", id, err)
	}
	if err := q.Delete(ctx, id); err != nil {
		return evt, fmt.Errorf("redrive %s: delete: %w", id, err)
	}
	return evt, nil
}

// RedriveAll redrives up to max records and returns how many succeeded.
// It keeps going after a failure and returns the failures joined.
func RedriveAll(ctx context.Context, q Queue, pub Publisher, max int) (int, error) {
	records, err := q.Receive(ctx, max)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := Redrive(ctx, q, pub, rec.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}
