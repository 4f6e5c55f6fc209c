package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists orders to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite order store.
// The path should be a file path (e.g., "./orders.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			version INTEGER NOT NULL,
			placed_at INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_orders_stage
		ON orders(stage)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, o *Order) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	stored := o.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, stage, version, placed_at, updated_at, data)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, o.ID, string(o.Stage), o.PlacedAt.UnixNano(), time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if n == 0 {
		return ErrExists
	}

	o.Version = 1
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE order_id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return decodeOrder(data)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, o *Order) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	next := o.Clone()
	next.Version = o.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET stage = ?, version = ?, updated_at = ?, data = ?
		WHERE order_id = ? AND version = ?
	`, string(o.Stage), next.Version, time.Now().UTC().Format(time.RFC3339Nano), data, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE order_id = ?`, o.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		return ErrVersionConflict
	}

	o.Version = next.Version
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, stages ...Stage) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `SELECT data FROM orders`
	args := make([]any, 0, len(stages))
	if len(stages) > 0 {
		placeholders := make([]string, len(stages))
		for i, st := range stages {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE stage IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY placed_at, order_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o, err := decodeOrder(data)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func decodeOrder(data []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}
