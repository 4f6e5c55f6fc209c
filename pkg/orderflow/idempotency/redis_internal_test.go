package idempotency

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_DecodeLogsCorruptRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewRedisStore(nil, WithRedisPrefix("p:"), WithRedisLogger(logger))

	_, err := s.decode("order-1/order_placed", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order-1/order_placed")
	assert.Contains(t, buf.String(), "corrupt idempotency record")
	assert.Contains(t, buf.String(), `"redis_key":"p:order-1/order_placed"`)

	buf.Reset()
	rec, err := s.decode("k", `{"key":"k","status":"complete"}`)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.Empty(t, buf.String())
}
