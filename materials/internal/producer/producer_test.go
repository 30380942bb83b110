package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
)

var base = time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

func releasedRequest() requests.Request {
	released := base
	return requests.Request{
		ID:               "req-1",
		Number:           "MR-0001",
		Items:            []events.Item{{Code: "REB-12", Description: "Rebar 12mm", Quantity: 40, Unit: "pcs"}},
		PickupLocation:   "Yard A",
		DeliveryLocation: "Block C",
		Priority:         deadline.PriorityHigh,
		RequestedBy:      "alice",
		Status:           requests.StatusReady,
		CreatedAt:        base.Add(-time.Hour),
		UpdatedAt:        base.Add(time.Hour),
		ReleasedAt:       &released,
	}
}

func newProducer(t *testing.T) (*Producer, *stream.Bus) {
	t.Helper()
	bus := stream.NewMemory(0, logging.Discard(), stream.Options{})
	t.Cleanup(bus.Close)
	return New(integration.NewPublisher(bus, logging.Discard()), logging.Discard()), bus
}

func readAll(t *testing.T, bus *stream.Bus, topic string) []events.Payload {
	t.Helper()
	msgs, err := bus.Read(context.Background(), topic, 10, "")
	require.NoError(t, err)
	out := make([]events.Payload, 0, len(msgs))
	for _, m := range msgs {
		_, p, err := events.DecodeFrom(topic, m.Data)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestReadyForCollection(t *testing.T) {
	p, bus := newProducer(t)
	require.NoError(t, p.ReadyForCollection(context.Background(), releasedRequest()))

	got := readAll(t, bus, events.TopicReadyForCollection)
	require.Len(t, got, 1)
	ready := got[0].(events.ReadyForCollection)
	assert.Equal(t, "req-1", ready.RequestID)
	assert.Equal(t, "MR-0001", ready.RequestNumber)
	assert.Equal(t, base, ready.ReadyAt)
	assert.Equal(t, deadline.PriorityHigh, ready.Priority)
}

func TestUpdatedCarriesTaskID(t *testing.T) {
	p, bus := newProducer(t)
	r := releasedRequest()
	r.TaskID = "task-9"
	r.Priority = deadline.PriorityCritical

	require.NoError(t, p.Updated(context.Background(), r, "alice"))
	got := readAll(t, bus, events.TopicRequestUpdated)
	require.Len(t, got, 1)
	upd := got[0].(events.RequestUpdated)
	assert.Equal(t, "task-9", upd.TaskID)
	assert.Equal(t, deadline.PriorityCritical, upd.Priority)
	assert.Equal(t, base.Add(time.Hour), upd.UpdatedAt)
}

func TestCancelledAndOnHold(t *testing.T) {
	p, bus := newProducer(t)
	ctx := context.Background()
	r := releasedRequest()
	cancelled := base.Add(2 * time.Hour)
	r.CancelledAt = &cancelled

	require.NoError(t, p.Cancelled(ctx, r, "ordered twice", "alice"))
	c := readAll(t, bus, events.TopicRequestCancelled)[0].(events.RequestCancelled)
	assert.Equal(t, cancelled, c.CancelledAt)
	assert.Equal(t, "ordered twice", c.Reason)

	r = releasedRequest()
	r.HoldReason = "crane unavailable"
	resume := base.Add(24 * time.Hour)
	require.NoError(t, p.OnHold(ctx, r, "alice", &resume))
	h := readAll(t, bus, events.TopicRequestOnHold)[0].(events.RequestOnHold)
	assert.Equal(t, "crane unavailable", h.Reason)
	require.NotNil(t, h.ExpectedResume)
	assert.Equal(t, resume, *h.ExpectedResume)
}

func TestUnreleasedRequestsAreSkipped(t *testing.T) {
	p, bus := newProducer(t)
	ctx := context.Background()
	r := releasedRequest()
	r.ReleasedAt = nil
	r.HoldReason = "waiting"

	require.NoError(t, p.Updated(ctx, r, "alice"))
	require.NoError(t, p.Cancelled(ctx, r, "gone", "alice"))
	require.NoError(t, p.OnHold(ctx, r, "alice", nil))

	for _, topic := range events.MaterialsTopics {
		assert.Empty(t, readAll(t, bus, topic), topic)
	}
}

func TestInvalidPayloadIsReturned(t *testing.T) {
	p, _ := newProducer(t)
	r := releasedRequest()
	r.HoldReason = ""
	assert.Error(t, p.OnHold(context.Background(), r, "alice", nil))
}
