package tap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

// Defaults for test queues.
const (
	DefaultRetention         = 60 * time.Second
	DefaultVisibilityTimeout = time.Second
)

// ErrClosed indicates the queue has been closed.
var ErrClosed = errors.New("tap queue closed")

// Message is one mirrored event.
type Message struct {
	// ID is the mirrored event ID.
	ID string `json:"id"`

	// ReceiptHandle identifies this receive for Delete. It changes on every
	// receive.
	ReceiptHandle string `json:"receiptHandle"`

	// Body is the event in CloudEvents structured JSON form.
	Body []byte `json:"body"`

	SentAt       time.Time `json:"sentAt"`
	ReceiveCount int       `json:"receiveCount"`
}

// Event decodes Body.
func (m Message) Event() (event.Event, error) {
	return event.UnmarshalCloudEvent(m.Body)
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Retention is how long a message is kept. Default: DefaultRetention
	Retention time.Duration

	// VisibilityTimeout hides a received message before it can be received
	// again. Default: DefaultVisibilityTimeout
	VisibilityTimeout time.Duration

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

type item struct {
	msg       Message
	expiresAt time.Time
	visibleAt time.Time
}

// Queue is an in-memory message queue with retention and a visibility
// timeout. It is safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	items  []*item
	cfg    QueueConfig
	closed bool

	// pushed is closed and replaced whenever a message arrives.
	pushed chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{cfg: cfg, pushed: make(chan struct{})}
}

// Push stores evt. It is the tap rule's target. Push on a closed queue
// drops evt and returns nil.
func (q *Queue) Push(evt event.Event) error {
	body, err := event.MarshalCloudEvent(evt)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	now := q.cfg.Now()
	q.expireLocked(now)
	q.items = append(q.items, &item{
		msg:       Message{ID: evt.ID, Body: body, SentAt: now},
		expiresAt: now.Add(q.cfg.Retention),
		visibleAt: now,
	})
	close(q.pushed)
	q.pushed = make(chan struct{})
	return nil
}

// Receive returns up to max visible messages, oldest first, and hides them
// for the visibility timeout. max <= 0 means all.
func (q *Queue) Receive(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	now := q.cfg.Now()
	q.expireLocked(now)

	var out []Message
	for _, it := range q.items {
		if max > 0 && len(out) == max {
			break
		}
		if now.Before(it.visibleAt) {
			continue
		}
		out = append(out, q.receiveLocked(it, now))
	}
	return out, nil
}

func (q *Queue) receiveLocked(it *item, now time.Time) Message {
	it.visibleAt = now.Add(q.cfg.VisibilityTimeout)
	it.msg.ReceiveCount++
	it.msg.ReceiptHandle = uuid.NewString()
	msg := it.msg
	msg.Body = append([]byte(nil), it.msg.Body...)
	return msg
}

// Delete removes the message last received with receipt. Unknown or stale
// receipts are ignored.
func (q *Queue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	for i, it := range q.items {
		if it.msg.ReceiptHandle == receipt {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// WaitFor blocks until a visible message whose event satisfies match
// arrives, receives it and returns it. Messages that do not match stay
// visible. Returns ctx.Err() when ctx is done first.
func (q *Queue) WaitFor(ctx context.Context, match func(event.Event) bool) (Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrClosed
		}
		now := q.cfg.Now()
		q.expireLocked(now)
		for _, it := range q.items {
			if now.Before(it.visibleAt) {
				continue
			}
			evt, err := it.msg.Event()
			if err != nil || !match(evt) {
				continue
			}
			msg := q.receiveLocked(it, now)
			q.mu.Unlock()
			return msg, nil
		}
		pushed := q.pushed
		q.mu.Unlock()

		// Hidden messages become visible again without a push.
		timer := time.NewTimer(q.cfg.VisibilityTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Message{}, ctx.Err()
		case <-pushed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Depth returns the number of unexpired messages, visible or not.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expireLocked(q.cfg.Now())
	return len(q.items)
}

// Close drops every message. Later calls other than Push return ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		close(q.pushed)
	}
	return nil
}

func (q *Queue) expireLocked(now time.Time) {
	kept := q.items[:0]
	for _, it := range q.items {
		if now.Before(it.expiresAt) {
			kept = append(kept, it)
		}
	}
	clear(q.items[len(kept):])
	q.items = kept
}
