package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orderflow/pkg/orderflow/dispatch"
)

func TestMemoryPublisher_FaultInjection(t *testing.T) {
	ctx := context.Background()
	pub := dispatch.NewMemoryPublisher()
	boom := errors.New("boom")

	pub.FailNext(2, boom)
	assert.ErrorIs(t, pub.Publish(ctx, "t", dispatch.Message{}), boom)
	assert.ErrorIs(t, pub.Publish(ctx, "t", dispatch.Message{}), boom)
	require.NoError(t, pub.Publish(ctx, "t", dispatch.Message{Body: []byte("ok")}))

	pub.FailAlways(boom)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, pub.Publish(ctx, "t", dispatch.Message{}), boom)
	}
	pub.Recover()
	require.NoError(t, pub.Publish(ctx, "t", dispatch.Message{}))

	assert.Equal(t, 2, pub.Count("t"))
	assert.Equal(t, 7, pub.Attempts())
	assert.Equal(t, "ok", string(pub.Messages("t")[0].Body))
}

func TestMemoryPublisher_Closed(t *testing.T) {
	pub := dispatch.NewMemoryPublisher()
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish(context.Background(), "t", dispatch.Message{}), dispatch.ErrPublisherClosed)
}

func TestMemoryPublisher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := dispatch.NewMemoryPublisher()
	assert.ErrorIs(t, pub.Publish(ctx, "t", dispatch.Message{}), context.Canceled)
	assert.Zero(t, pub.Attempts())
}
