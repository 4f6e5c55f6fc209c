package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock replaces time.Now, for tests.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a new SQLite idempotency store.
// The path should be a file path (e.g., "./idempotency.db") or ":memory:" for testing.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS idempotency_records (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			token TEXT NOT NULL,
			result BLOB,
			error TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at
		ON idempotency_records(expires_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Acquire implements Store. The create-if-absent is a single upsert whose
// update branch only fires for expired or failed rows.
func (s *SQLiteStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, false, ErrStoreClosed
	}

	// A live row can expire between the upsert and the read; try again.
	for range 3 {
		now := s.now()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO idempotency_records (key, status, token, result, error, expires_at, updated_at)
			VALUES (?, ?, ?, NULL, '', ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				status = excluded.status,
				token = excluded.token,
				result = NULL,
				error = '',
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at
			WHERE idempotency_records.expires_at <= ? OR idempotency_records.status = ?
		`, key, StatusInProgress, token, now.Add(ttl).UnixNano(), now.UnixNano(),
			now.UnixNano(), StatusFailed)
		if err != nil {
			return Record{}, false, fmt.Errorf("acquire record: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return Record{}, false, fmt.Errorf("acquire record: %w", err)
		}
		if n == 1 {
			return Record{
				Key:       key,
				Status:    StatusInProgress,
				Token:     token,
				ExpiresAt: now.Add(ttl),
				UpdatedAt: now,
			}, true, nil
		}

		rec, err := s.get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Record{}, false, err
		}
		return rec, false, nil
	}
	return Record{}, false, fmt.Errorf("acquire record %s: contention did not settle", key)
}

// Complete implements Store.
func (s *SQLiteStore) Complete(ctx context.Context, key, token string, result json.RawMessage, ttl time.Duration) error {
	return s.finish(ctx, key, token, StatusComplete, []byte(result), "", ttl)
}

// Fail implements Store.
func (s *SQLiteStore) Fail(ctx context.Context, key, token, reason string, ttl time.Duration) error {
	return s.finish(ctx, key, token, StatusFailed, nil, reason, ttl)
}

func (s *SQLiteStore) finish(ctx context.Context, key, token string, status Status, result []byte, reason string, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = ?, result = ?, error = ?, expires_at = ?, updated_at = ?
		WHERE key = ? AND token = ? AND status = ?
	`, status, result, reason, now.Add(ttl).UnixNano(), now.UnixNano(), key, token, StatusInProgress)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}
	return s.get(ctx, key)
}

func (s *SQLiteStore) get(ctx context.Context, key string) (Record, error) {
	var (
		rec       Record
		status    string
		result    []byte
		expiresAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, token, result, error, expires_at, updated_at
		FROM idempotency_records
		WHERE key = ? AND expires_at > ?
	`, key, s.now().UnixNano()).Scan(&status, &rec.Token, &result, &rec.Error, &expiresAt, &updatedAt)

	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}

	rec.Key = key
	rec.Status = Status(status)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	rec.ExpiresAt = time.Unix(0, expiresAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return rec, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Purge removes expired records and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return res.RowsAffected()
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
