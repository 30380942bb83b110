package redisstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

const topic = "events:materials:ready_for_collection"

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func appendN(t *testing.T, l *Log, from, to int) []string {
	t.Helper()
	var ids []string
	for i := from; i <= to; i++ {
		got, err := l.Append(context.Background(), topic, [][]byte{[]byte(fmt.Sprint(i))})
		require.NoError(t, err)
		ids = append(ids, got...)
	}
	return ids
}

func TestAppendAndRange(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewLog(client, 100)
	ctx := context.Background()

	ids, err := l.Append(ctx, topic, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	msgs, err := l.Range(ctx, topic, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", string(msgs[0].Data))
	assert.Equal(t, ids[0], msgs[0].ID)
	assert.Equal(t, topic, msgs[0].Topic)
	assert.False(t, msgs[0].Timestamp.IsZero())

	msgs, err = l.Range(ctx, topic, ids[0], 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", string(msgs[0].Data))

	msgs, err = l.Range(ctx, topic, ids[2], 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTrimToRetention(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewLog(client, 5)
	appendN(t, l, 1, 12)

	info, err := l.Info(context.Background(), topic)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Length)
	require.NotNil(t, info.First)
	assert.Equal(t, "8", string(info.First.Data))
	assert.Equal(t, "12", string(info.Last.Data))
	assert.Equal(t, info.Last.ID, info.LastID)
}

func TestRangeAfterTrimmedCursor(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewLog(client, 3)
	ids := appendN(t, l, 1, 6)

	msgs, err := l.Range(context.Background(), topic, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "4", string(msgs[0].Data))
}

func TestInfoEmptyTopicAndTopics(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewLog(client, 0)
	ctx := context.Background()

	info, err := l.Info(ctx, "events:dlq")
	require.NoError(t, err)
	assert.Zero(t, info.Length)
	assert.Nil(t, info.First)

	appendN(t, l, 1, 1)
	topics, err := l.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{topic}, topics)
	assert.NoError(t, l.Ping(ctx))
}

func TestCursors(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewCursors(client)
	ctx := context.Background()

	id, err := c.Load(ctx, topic, "g", "c")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, c.Commit(ctx, topic, "g", "c", "1-0"))
	id, err = c.Load(ctx, topic, "g", "c")
	require.NoError(t, err)
	assert.Equal(t, "1-0", id)
	assert.Equal(t, "1-0", mr.HGet("cursors:"+topic, "g:c"))

	require.NoError(t, c.Reset(ctx, topic, "g", "c"))
	id, err = c.Load(ctx, topic, "g", "c")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestBusOverRedis(t *testing.T) {
	_, client := setupTestRedis(t)
	bus := stream.New(NewLog(client, 0), NewCursors(client), logging.Discard(), stream.Options{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    2,
	})
	defer bus.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := bus.Publish(ctx, topic, []byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	var got []string
	cancel, err := bus.Subscribe(ctx, topic, "logistics-task-creation", "worker-1", func(_ context.Context, msg stream.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(msg.Data))
		return nil
	})
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, got)
}

func TestPublishFailsWhenRedisIsDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewLog(client, 0)
	mr.Close()

	_, err := l.Append(context.Background(), topic, [][]byte{[]byte("x")})
	assert.Error(t, err)
}
