package jetstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/logistics-bridge/common/logging"
)

// setupTestNATS starts a JetStream-enabled NATS server in a container.
func setupTestNATS(t *testing.T) jetstream.JetStream {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.Run(ctx,
		"nats:2.10-alpine",
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready").WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start NATS container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.MaxReconnects = 0
	conn, js, err := Connect(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return js
}

func TestJetStreamLog(t *testing.T) {
	js := setupTestNATS(t)
	ctx := context.Background()

	t.Run("append and range", func(t *testing.T) {
		const topic = "events:materials:ready_for_collection"
		l := NewLog(js, nil, 100)

		ids, err := l.Append(ctx, topic, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
		require.NoError(t, err)
		require.Equal(t, []string{"1", "2", "3"}, ids)

		msgs, err := l.Range(ctx, topic, "", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "a", string(msgs[0].Data))
		assert.Equal(t, topic, msgs[0].Topic)
		assert.False(t, msgs[0].Timestamp.IsZero())

		msgs, err = l.Range(ctx, topic, ids[0], 1)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "b", string(msgs[0].Data))

		msgs, err = l.Range(ctx, topic, ids[2], 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		info, err := l.Info(ctx, topic)
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Length)
		require.NotNil(t, info.First)
		require.NotNil(t, info.Last)
		assert.Equal(t, "a", string(info.First.Data))
		assert.Equal(t, "c", string(info.Last.Data))
		assert.Equal(t, ids[2], info.LastID)
	})

	t.Run("retention drops oldest", func(t *testing.T) {
		const topic = "events:logistics:task_accepted"
		l := NewLog(js, nil, 3)

		var ids []string
		for i := 1; i <= 5; i++ {
			got, err := l.Append(ctx, topic, [][]byte{[]byte(fmt.Sprint(i))})
			require.NoError(t, err)
			ids = append(ids, got...)
		}

		info, err := l.Info(ctx, topic)
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Length)
		require.NotNil(t, info.First)
		assert.Equal(t, "3", string(info.First.Data))

		// A cursor pointing at a trimmed entry resumes at the oldest survivor.
		msgs, err := l.Range(ctx, topic, ids[0], 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "3", string(msgs[0].Data))
		assert.Equal(t, "5", string(msgs[2].Data))
	})

	t.Run("unknown topic", func(t *testing.T) {
		l := NewLog(js, nil, 10)
		msgs, err := l.Range(ctx, "events:never:written", "", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		info, err := l.Info(ctx, "events:never:written")
		require.NoError(t, err)
		assert.Zero(t, info.Length)
		assert.Nil(t, info.First)
	})

	t.Run("topics", func(t *testing.T) {
		l := NewLog(js, nil, 10)
		topics, err := l.Topics(ctx)
		require.NoError(t, err)
		assert.Contains(t, topics, "events:materials:ready_for_collection")
		assert.Contains(t, topics, "events:logistics:task_accepted")
		assert.NotContains(t, topics, "events:never:written")
	})
}

func TestJetStreamCursors(t *testing.T) {
	js := setupTestNATS(t)
	ctx := context.Background()
	const topic = "events:materials:updated"

	c, err := NewCursors(ctx, js, "test-cursors")
	require.NoError(t, err)

	id, err := c.Load(ctx, topic, "logistics-status-mirror", "host-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, c.Commit(ctx, topic, "logistics-status-mirror", "host-1", "7"))
	require.NoError(t, c.Commit(ctx, topic, "logistics-status-mirror", "host-1", "9"))
	id, err = c.Load(ctx, topic, "logistics-status-mirror", "host-1")
	require.NoError(t, err)
	assert.Equal(t, "9", id)

	// Other groups keep their own position.
	id, err = c.Load(ctx, topic, "other-group", "host-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, c.Reset(ctx, topic, "logistics-status-mirror", "host-1"))
	id, err = c.Load(ctx, topic, "logistics-status-mirror", "host-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, c.Reset(ctx, topic, "never-committed", "host-1"))

	// Reopening the bucket keeps committed cursors.
	require.NoError(t, c.Commit(ctx, topic, "logistics-status-mirror", "host-1", "12"))
	c2, err := NewCursors(ctx, js, "test-cursors")
	require.NoError(t, err)
	id, err = c2.Load(ctx, topic, "logistics-status-mirror", "host-1")
	require.NoError(t, err)
	assert.Equal(t, "12", id)
}
