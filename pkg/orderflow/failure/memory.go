package failure

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

// MemoryQueue is an in-memory failure queue.
// Suitable for testing and single-instance deployments.
type MemoryQueue struct {
	mu      sync.Mutex
	records map[string]*entry
	cfg     Config
	closed  bool

	enqueued int64
}

// entry keeps the capture order for Receive.
type entry struct {
	rec *Record
	seq int64
}

// NewMemoryQueue creates a new in-memory failure queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		records: make(map[string]*entry),
		cfg:     cfg.withDefaults(),
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, failed *event.FailedDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := q.cfg.Now()
	q.expireLocked()
	if q.cfg.MaxSize > 0 && len(q.records) >= q.cfg.MaxSize {
		return ErrQueueFull
	}

	delivery := *failed
	delivery.Event = failed.Event.Clone()
	rec := &Record{
		ID:         uuid.NewString(),
		Delivery:   delivery,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(q.cfg.Retention),
	}
	q.enqueued++
	q.records[rec.ID] = &entry{rec: rec, seq: q.enqueued}

	logCaptured(q.cfg.Logger, *rec)
	return nil
}

// ApproximateDepth implements Queue.
func (q *MemoryQueue) ApproximateDepth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	q.expireLocked()
	return len(q.records), nil
}

// Receive implements Queue.
func (q *MemoryQueue) Receive(_ context.Context, max int) ([]Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	q.expireLocked()

	all := make([]*entry, 0, len(q.records))
	for _, e := range q.records {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].seq < all[j].seq
	})
	if max > 0 && len(all) > max {
		all = all[:max]
	}

	out := make([]Record, 0, len(all))
	for _, e := range all {
		e.rec.ReceiveCount++
		out = append(out, copyRecord(*e.rec))
	}
	return out, nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(_ context.Context, id string) (Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Record{}, ErrQueueClosed
	}
	e, ok := q.records[id]
	if !ok || e.rec.Expired(q.cfg.Now()) {
		return Record{}, ErrNotFound
	}
	return copyRecord(*e.rec), nil
}

// Delete implements Queue.
func (q *MemoryQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	delete(q.records, id)
	return nil
}

// Enqueued returns how many records were ever captured.
func (q *MemoryQueue) Enqueued() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.records = nil
	return nil
}

// expireLocked drops records past retention (must hold lock).
func (q *MemoryQueue) expireLocked() {
	now := q.cfg.Now()
	for id, e := range q.records {
		if e.rec.Expired(now) {
			delete(q.records, id)
		}
	}
}

func copyRecord(rec Record) Record {
	rec.Delivery.Event = rec.Delivery.Event.Clone()
	return rec
}
