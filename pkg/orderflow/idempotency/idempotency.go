// Package idempotency guarantees a side-effecting operation runs at most
// once per operation key, even when the triggering event is redelivered.
//
// RunOnce is the entry point. Every Store implements an atomic
// create-if-absent acquire, so when two invocations race on the same key
// exactly one runs the operation.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Record is the persisted state for one operation key.
type Record struct {
	Key    string          `json:"key"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Token identifies the acquirer. Only the holder of the token may
	// complete or fail an in-progress record.
	Token string `json:"token"`

	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the record should be treated as absent.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Store persists idempotency records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Acquire atomically creates an in-progress record for key when no
	// record exists, the existing record has expired, or it is failed.
	// It reports whether the caller acquired the key; when it did not, the
	// existing live record is returned.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (Record, bool, error)

	// Complete stores the result of an acquired key.
	// Returns ErrNotOwner if token no longer holds the key.
	Complete(ctx context.Context, key, token string, result json.RawMessage, ttl time.Duration) error

	// Fail marks an acquired key as failed.
	// Returns ErrNotOwner if token no longer holds the key.
	Fail(ctx context.Context, key, token, reason string, ttl time.Duration) error

	// Get returns the live record for key.
	// Returns ErrNotFound if there is none or it has expired.
	Get(ctx context.Context, key string) (Record, error)

	// Delete removes the record for key. Returns nil if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for idempotency operations.
var (
	// ErrConcurrentExecutionInProgress indicates another invocation holds
	// the key. Callers must retry later and never proceed.
	ErrConcurrentExecutionInProgress = errors.New("concurrent execution in progress")

	// ErrNotFound indicates no live record exists.
	ErrNotFound = errors.New("idempotency record not found")

	// ErrNotOwner indicates the caller's token no longer holds the key,
	// typically because its in-progress record expired and was re-acquired.
	ErrNotOwner = errors.New("idempotency key held by another invocation")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("idempotency store closed")
)

// Key derives a deterministic key from an order ID and an operation kind.
// It never depends on event content or transport delivery IDs.
func Key(orderID, operation string) string {
	h := sha256.New()
	h.Write([]byte(orderID))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	return operation + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
