package dlq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

func newTestQueue(t *testing.T) (*Queue, *stream.Bus) {
	t.Helper()
	bus := stream.NewMemory(0, logging.Discard(), stream.Options{})
	t.Cleanup(bus.Close)
	return NewQueue(bus, logging.Discard(), nil), bus
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: bad json", events.ErrMalformed), ReasonMalformed},
		{fmt.Errorf("%w: x", events.ErrUnknownEventType), ReasonUnknownType},
		{fmt.Errorf("%w: 2.0", events.ErrUnsupportedVersion), ReasonUnsupportedVersion},
		{fmt.Errorf("%w: t", events.ErrWrongTopic), ReasonWrongTopic},
		{&events.ValidationError{EventType: "task.accepted", Problems: []string{"task_id is required"}}, ReasonValidation},
		{errors.New("something else"), ReasonOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReasonFor(tt.err), tt.err.Error())
	}
}

func TestWriteListAndStats(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	bad := stream.Message{ID: "01A", Topic: events.TopicTaskAccepted, Data: []byte("{not json")}
	require.NoError(t, q.Write(ctx, bad, "materials-status-mirror", "host-1", fmt.Errorf("%w: eof", events.ErrMalformed)))

	invalid := stream.Message{ID: "01B", Topic: events.TopicReadyForCollection, Data: []byte(`{"event_type":"x"}`)}
	require.NoError(t, q.Write(ctx, invalid, "logistics-task-creation", "host-1", fmt.Errorf("%w: x", events.ErrUnknownEventType)))

	entries, err := q.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, events.TopicTaskAccepted, entries[0].Event.Topic)
	assert.Equal(t, "materials-status-mirror", entries[0].Event.Group)
	assert.Equal(t, "01A", entries[0].Event.MessageID)
	assert.Equal(t, []byte("{not json"), entries[0].Event.Data)
	assert.Equal(t, ReasonMalformed, entries[0].Event.Reason)
	assert.Contains(t, entries[0].Event.Error, "eof")

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Length)
	assert.Equal(t, 1, st.ByReason[ReasonMalformed])
	assert.Equal(t, 1, st.ByReason[ReasonUnknownType])
	assert.Equal(t, 1, st.ByTopic[events.TopicTaskAccepted])
	require.NotNil(t, st.Oldest)
	assert.False(t, st.Newest.Before(*st.Oldest))
}

func TestReplayRepublishesOriginalBytes(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx := context.Background()
	q.now = func() time.Time { return time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) }

	original := []byte(`{"event_type":"task.accepted"}`)
	require.NoError(t, q.Write(ctx, stream.Message{ID: "1", Topic: events.TopicTaskAccepted, Data: original}, "g", "c",
		fmt.Errorf("%w: fixed later", events.ErrMalformed)))

	entries, err := q.List(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	newID, err := q.Replay(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, newID)

	msgs, err := bus.Read(ctx, events.TopicTaskAccepted, 10, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, original, msgs[0].Data)
	assert.Equal(t, newID, msgs[0].ID)

	_, err = q.Replay(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestNilQueueWriteIsNoop(t *testing.T) {
	var q *Queue
	assert.NoError(t, q.Write(context.Background(), stream.Message{}, "g", "c", errors.New("x")))
}
