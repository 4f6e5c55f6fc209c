package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// acquireScript sets KEYS[1] to ARGV[1] with a PX expiry of ARGV[2] unless
// a non-failed record is already present, in which case it returns that
// record. A nil reply means the caller acquired the key.
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local rec = cjson.decode(cur)
	if rec.status ~= 'failed' then
		return cur
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

// finishScript replaces KEYS[1] with ARGV[2] (PX ARGV[3]) only while the
// stored record is in progress and owned by token ARGV[1].
var finishScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
local rec = cjson.decode(cur)
if rec.token ~= ARGV[1] or rec.status ~= 'in_progress' then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisStore stores records in Redis with native key expiry. Atomicity
// comes from Lua scripts, so it is safe across processes.
type RedisStore struct {
	client goredis.Cmdable
	prefix string
	logger *slog.Logger
}

// RedisOption configures the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default: "orderflow:idempotency:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisLogger sets a custom logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = l }
}

// NewRedisStore creates a Redis-backed store. The caller owns the Redis
// client lifecycle.
func NewRedisStore(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "orderflow:idempotency:",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (Record, bool, error) {
	now := time.Now().UTC()
	rec := Record{
		Key:       key,
		Status:    StatusInProgress,
		Token:     token,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("encode record: %w", err)
	}

	cur, err := acquireScript.Run(ctx, s.client, []string{s.key(key)}, data, ttlMillis(ttl)).Text()
	if errors.Is(err, goredis.Nil) {
		return rec, true, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("orderflow/redis: acquire: %w", err)
	}

	existing, err := s.decode(key, cur)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key, token string, result json.RawMessage, ttl time.Duration) error {
	return s.finish(ctx, key, token, Record{Status: StatusComplete, Result: result}, ttl)
}

// Fail implements Store.
func (s *RedisStore) Fail(ctx context.Context, key, token, reason string, ttl time.Duration) error {
	return s.finish(ctx, key, token, Record{Status: StatusFailed, Error: reason}, ttl)
}

func (s *RedisStore) finish(ctx context.Context, key, token string, rec Record, ttl time.Duration) error {
	now := time.Now().UTC()
	rec.Key = key
	rec.Token = token
	rec.ExpiresAt = now.Add(ttl)
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	n, err := finishScript.Run(ctx, s.client, []string{s.key(key)}, token, data, ttlMillis(ttl)).Int()
	if err != nil {
		return fmt.Errorf("orderflow/redis: finish: %w", err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	cur, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("orderflow/redis: get: %w", err)
	}
	return s.decode(key, cur)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("orderflow/redis: delete: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *RedisStore) Close() error { return nil }

// decode parses a stored record. A corrupt value is logged with its key
// because it blocks the key until it expires.
func (s *RedisStore) decode(key, data string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		s.logger.Warn("corrupt idempotency record",
			slog.String("key", key),
			slog.String("redis_key", s.key(key)),
			slog.String("error", err.Error()),
		)
		return Record{}, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec, nil
}

func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}
