package alerting

import (
	"context"
	"sync"
)

// State is the evaluated state of an alarm.
type State string

const (
	StateOK    State = "OK"
	StateAlarm State = "ALARM"
)

// Source reads the metric for one evaluation period. ok is false when there
// is no data point, which is treated as healthy.
type Source func(ctx context.Context) (value float64, ok bool, err error)

// Alarm breaches when its metric is greater than Threshold.
type Alarm struct {
	Name        string
	Description string
	Threshold   float64
	Source      Source
	// Channel is the operator channel notified on breach.
	Channel string
}

// Alarm names used by the built-in alarms.
const (
	FailureQueueDepthName = "failure-queue-depth"
	HandoffFailuresName   = "failure-handoff-failures"
)

// DepthReader reports the number of records waiting in a queue.
type DepthReader interface {
	ApproximateDepth(ctx context.Context) (int, error)
}

// HandoffCounter reports the cumulative number of failed handoffs.
type HandoffCounter interface {
	HandoffFailures() int64
}

// FailureQueueDepthAlarm breaches while the queue holds at least one record.
func FailureQueueDepthAlarm(q DepthReader, channel string) Alarm {
	return Alarm{
		Name:        FailureQueueDepthName,
		Description: "failed deliveries are waiting in the failure queue",
		Threshold:   0,
		Channel:     channel,
		Source: func(ctx context.Context) (float64, bool, error) {
			depth, err := q.ApproximateDepth(ctx)
			if err != nil {
				return 0, false, err
			}
			return float64(depth), true, nil
		},
	}
}

// HandoffFailureAlarm breaches when the counter grew since the previous
// evaluation. A period with no new failures has no data point.
func HandoffFailureAlarm(c HandoffCounter, channel string) Alarm {
	return Alarm{
		Name:        HandoffFailuresName,
		Description: "failed deliveries could not be written to the failure queue",
		Threshold:   0,
		Channel:     channel,
		Source:      DeltaSource(c.HandoffFailures),
	}
}

// DeltaSource turns a cumulative counter into a per-period source.
func DeltaSource(read func() int64) Source {
	var (
		mu   sync.Mutex
		last int64
	)
	return func(context.Context) (float64, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		cur := read()
		delta := cur - last
		last = cur
		if delta <= 0 {
			return 0, false, nil
		}
		return float64(delta), true, nil
	}
}
