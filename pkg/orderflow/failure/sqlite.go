package failure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/orderflow/pkg/orderflow/event"
)

// SQLiteQueue persists captured failures to SQLite.
// It is suitable for single-process production use.
type SQLiteQueue struct {
	db     *sql.DB
	cfg    Config
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteQueue creates a new SQLite failure queue.
// The path should be a file path (e.g., "./failures.db") or ":memory:" for testing.
func NewSQLiteQueue(path string, cfg Config) (*SQLiteQueue, error) {
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
		CREATE TABLE IF NOT EXISTS failure_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			rule TEXT NOT NULL,
			event_id TEXT NOT NULL,
			delivery BLOB NOT NULL,
			receive_count INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_failure_records_expires_at
		ON failure_records(expires_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteQueue{db: db, cfg: cfg.withDefaults()}, nil
}

// Enqueue implements Queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, failed *event.FailedDelivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := q.cfg.Now()
	if q.cfg.MaxSize > 0 {
		depth, err := q.depth(ctx, now)
		if err != nil {
			return err
		}
		if depth >= q.cfg.MaxSize {
			return ErrQueueFull
		}
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	rec := Record{
		ID:         uuid.NewString(),
		Delivery:   *failed,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(q.cfg.Retention),
	}
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO failure_records (id, rule, event_id, delivery, enqueued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, failed.Rule, failed.Event.ID, data, now.UnixNano(), rec.ExpiresAt.UnixNano()); err != nil {
		return fmt.Errorf("insert failure record: %w", err)
	}

	logCaptured(q.cfg.Logger, rec)
	return nil
}

// ApproximateDepth implements Queue.
func (q *SQLiteQueue) ApproximateDepth(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	return q.depth(ctx, q.cfg.Now())
}

func (q *SQLiteQueue) depth(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failure_records WHERE expires_at > ?`, now.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failure records: %w", err)
	}
	return n, nil
}

// Receive implements Queue.
func (q *SQLiteQueue) Receive(ctx context.Context, max int) ([]Record, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if max <= 0 {
		max = -1
	}

	now := q.cfg.Now().UnixNano()
	if _, err := q.db.ExecContext(ctx, `
		UPDATE failure_records SET receive_count = receive_count + 1
		WHERE seq IN (
			SELECT seq FROM failure_records WHERE expires_at > ? ORDER BY seq LIMIT ?
		)
	`, now, max); err != nil {
		return nil, fmt.Errorf("mark failure records received: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, delivery, receive_count, enqueued_at, expires_at
		FROM failure_records
		WHERE expires_at > ?
		ORDER BY seq
		LIMIT ?
	`, now, max)
	if err != nil {
		return nil, fmt.Errorf("receive failure records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get implements Queue.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (Record, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return Record{}, ErrQueueClosed
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT id, delivery, receive_count, enqueued_at, expires_at
		FROM failure_records
		WHERE id = ? AND expires_at > ?
	`, id, q.cfg.Now().UnixNano())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Delete implements Queue.
func (q *SQLiteQueue) Delete(ctx context.Context, id string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM failure_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete failure record: %w", err)
	}
	return nil
}

// Purge removes expired records and returns how many were removed.
func (q *SQLiteQueue) Purge(ctx context.Context) (int64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM failure_records WHERE expires_at <= ?`, q.cfg.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge failure records: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		delivery   []byte
		enqueuedAt int64
		expiresAt  int64
	)
	if err := row.Scan(&rec.ID, &delivery, &rec.ReceiveCount, &enqueuedAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan failure record: %w", err)
	}
	if err := json.Unmarshal(delivery, &rec.Delivery); err != nil {
		return Record{}, fmt.Errorf("decode delivery: %w", err)
	}
	rec.EnqueuedAt = time.Unix(0, enqueuedAt)
	rec.ExpiresAt = time.Unix(0, expiresAt)
	return rec, nil
}
