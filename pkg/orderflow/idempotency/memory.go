package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore stores records in memory.
// Suitable for tests and single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
	closed  bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces time.Now, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, key, token string, ttl time.Duration) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, false, ErrStoreClosed
	}

	now := s.now()
	if existing, ok := s.records[key]; ok && !existing.Expired(now) && existing.Status != StatusFailed {
		return cloneRecord(existing), false, nil
	}

	rec := Record{
		Key:       key,
		Status:    StatusInProgress,
		Token:     token,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	s.records[key] = rec
	return cloneRecord(rec), true, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, token string, result json.RawMessage, ttl time.Duration) error {
	return s.finish(key, token, func(rec *Record) {
		rec.Status = StatusComplete
		rec.Result = append(json.RawMessage(nil), result...)
	}, ttl)
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, key, token, reason string, ttl time.Duration) error {
	return s.finish(key, token, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Error = reason
	}, ttl)
}

func (s *MemoryStore) finish(key, token string, apply func(*Record), ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	rec, ok := s.records[key]
	if !ok || rec.Token != token || rec.Status != StatusInProgress {
		return ErrNotOwner
	}

	now := s.now()
	apply(&rec)
	rec.ExpiresAt = now.Add(ttl)
	rec.UpdatedAt = now
	s.records[key] = rec
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	rec, ok := s.records[key]
	if !ok || rec.Expired(s.now()) {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.records, key)
	return nil
}

// Len returns the number of stored records, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.records = nil
	return nil
}

// cloneRecord creates a deep copy so callers cannot mutate stored state.
func cloneRecord(rec Record) Record {
	if rec.Result != nil {
		rec.Result = append(json.RawMessage(nil), rec.Result...)
	}
	return rec
}
