package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
)

// Config controls record expiry.
type Config struct {
	// TTL is how long a completed result is kept. Default: 24h
	TTL time.Duration

	// InProgressTTL bounds how long a crashed invocation can block its key.
	// Default: 30s
	InProgressTTL time.Duration

	// FailedTTL is how long a failed record is kept for inspection. A failed
	// record never blocks a new attempt. Default: 1h
	FailedTTL time.Duration
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	TTL:           24 * time.Hour,
	InProgressTTL: 30 * time.Second,
	FailedTTL:     time.Hour,
}

// Guard runs operations through a Store.
type Guard struct {
	store  Store
	config Config
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithConfig sets record expiry. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(g *Guard) {
		if cfg.TTL > 0 {
			g.config.TTL = cfg.TTL
		}
		if cfg.InProgressTTL > 0 {
			g.config.InProgressTTL = cfg.InProgressTTL
		}
		if cfg.FailedTTL > 0 {
			g.config.FailedTTL = cfg.FailedTTL
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a Guard backed by store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		config: DefaultConfig,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store returns the underlying store.
func (g *Guard) Store() Store {
	return g.store
}

// Result is the outcome of RunOnce.
type Result[T any] struct {
	// Value is the operation's result, or the stored result when replayed.
	Value T

	// Replayed is true when the key was already complete and op did not
	// run. This is duplicate suppression, not an error.
	Replayed bool
}

// RunOnce executes op at most once for key.
//
//   - No live record: op runs. Success stores the result; an error marks
//     the record failed and is returned unchanged.
//   - Complete record: the stored result is returned with Replayed set.
//   - Live in-progress record: a transient error wrapping
//     ErrConcurrentExecutionInProgress is returned and op does not run.
//   - Failed or expired record: treated as absent.
func RunOnce[T any](ctx context.Context, g *Guard, key string, op func(ctx context.Context) (T, error)) (Result[T], error) {
	var zero Result[T]

	token := uuid.NewString()
	rec, acquired, err := g.store.Acquire(ctx, key, token, g.config.InProgressTTL)
	if err != nil {
		return zero, fmt.Errorf("acquire idempotency key %s: %w", key, err)
	}

	if !acquired {
		switch rec.Status {
		case StatusComplete:
			var value T
			if len(rec.Result) > 0 {
				if err := json.Unmarshal(rec.Result, &value); err != nil {
					return zero, oferrors.Permanent(
						fmt.Errorf("decode stored result for %s: %w", key, err), "idempotency replay")
				}
			}
			g.logger.Debug("duplicate suppressed", slog.String("key", key))
			return Result[T]{Value: value, Replayed: true}, nil
		default:
			return zero, oferrors.Transient(
				fmt.Errorf("key %s until %s: %w", key, rec.ExpiresAt.Format(time.RFC3339), ErrConcurrentExecutionInProgress),
				"idempotency acquire")
		}
	}

	value, opErr := op(ctx)
	if opErr != nil {
		if err := g.store.Fail(ctx, key, token, opErr.Error(), g.config.FailedTTL); err != nil {
			g.logger.Warn("failed to record idempotency failure",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return zero, opErr
	}

	data, err := json.Marshal(value)
	if err != nil {
		// The side effect already happened; keep the key blocked until it
		// expires rather than inviting a second execution.
		g.logger.Error("failed to encode idempotency result",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Result[T]{Value: value}, nil
	}

	if err := g.store.Complete(ctx, key, token, data, g.config.TTL); err != nil {
		g.logger.Error("failed to record idempotency completion",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return Result[T]{Value: value}, nil
}
