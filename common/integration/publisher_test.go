package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
)

type failingAppender struct{}

func (failingAppender) Publish(context.Context, string, []byte) (string, error) {
	return "", errors.New("redis down")
}

func TestPublisherEmit(t *testing.T) {
	bus, _ := setup(t)
	p := NewPublisher(bus, logging.Discard())
	ctx := context.Background()

	env, err := p.Emit(ctx, cancelledPayload())
	require.NoError(t, err)
	assert.Equal(t, events.TypeRequestCancelled, env.EventType)
	assert.Equal(t, events.Version, env.Version)

	msgs, err := bus.Read(ctx, events.TopicRequestCancelled, 10, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	got, payload, err := events.DecodeFrom(events.TopicRequestCancelled, msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, cancelledPayload(), payload)
}

func TestPublisherEmitErrors(t *testing.T) {
	p := NewPublisher(failingAppender{}, logging.Discard())
	_, err := p.Emit(context.Background(), cancelledPayload())
	assert.ErrorContains(t, err, "redis down")

	invalid := cancelledPayload()
	invalid.CancelledBy = ""
	_, err = NewPublisher(failingAppender{}, logging.Discard()).Emit(context.Background(), invalid)
	var verr *events.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPublisherStampsUTC(t *testing.T) {
	bus, _ := setup(t)
	p := NewPublisher(bus, logging.Discard())
	p.now = func() time.Time { return time.Date(2025, 3, 3, 10, 0, 0, 0, time.FixedZone("CET", 3600)) }

	env, err := p.Emit(context.Background(), cancelledPayload())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, env.Timestamp.Location())
	assert.Equal(t, 9, env.Timestamp.Hour())
}
