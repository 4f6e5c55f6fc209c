package order

import (
	"context"
	"errors"
)

// Store persists orders.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new order at version 1.
	// Returns ErrExists if an order with the same ID is already stored.
	Create(ctx context.Context, o *Order) error

	// Get loads an order.
	// Returns ErrNotFound if the order doesn't exist.
	Get(ctx context.Context, id string) (*Order, error)

	// Update replaces a stored order if o.Version matches the stored
	// version, then increments o.Version.
	// Returns ErrVersionConflict if another writer updated it first.
	Update(ctx context.Context, o *Order) error

	// List returns orders in any of the given stages, oldest first.
	// No stages means all orders.
	List(ctx context.Context, stages ...Stage) ([]*Order, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for order storage.
var (
	// ErrNotFound indicates an order doesn't exist.
	ErrNotFound = errors.New("order not found")

	// ErrExists indicates an order ID is already taken.
	ErrExists = errors.New("order already exists")

	// ErrVersionConflict indicates the stored order changed since it was read.
	ErrVersionConflict = errors.New("order version conflict")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("order store closed")
)
