package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/dlq"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/notify"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
	"github.com/telhawk-systems/logistics-bridge/common/xref"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
)

var at = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

type fixture struct {
	consumer *Consumer
	requests *requests.Store
	xref     *xref.MemoryStore
	notes    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{requests: requests.NewStore(), xref: xref.NewMemoryStore(), notes: &recordingNotifier{}}
	f.consumer = New(f.requests, f.xref, f.notes, logging.Discard(), nil)

	ctx := context.Background()
	_, err := f.requests.Create(ctx, requests.Request{
		ID: "r1", Number: "MR-0001", Priority: deadline.PriorityHigh, RequestedBy: "alice", CreatedAt: at.Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.requests.Release(ctx, "r1", at.Add(-time.Hour))
	require.NoError(t, err)
	return f
}

func env(id, eventType string) events.Envelope {
	return events.Envelope{EventID: id, EventType: eventType, Timestamp: at, Source: events.SourceLogistics}
}

func accepted() events.TaskAccepted {
	return events.TaskAccepted{
		TaskID: "t1", RequestID: "r1", AssignedTo: "drv-7", AcceptedAt: at, TargetAt: at.Add(4 * time.Hour), SLAMinutes: 240,
	}
}

func delivered() events.TaskDelivered {
	return events.TaskDelivered{TaskID: "t1", RequestID: "r1", DeliveredAt: at.Add(time.Hour), ReceivedBy: "bob", PhotoCount: 1, OnTime: true}
}

func TestAcceptedLinksTaskAndRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.consumer.HandleAccepted(ctx, env("e1", events.TypeTaskAccepted), accepted()))

	owner, err := f.xref.Get(ctx, xref.Key(xref.KindLogisticsTask, "t1"))
	require.NoError(t, err)
	assert.Equal(t, "r1", owner)

	r, err := f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusAccepted, r.Status)
	assert.Equal(t, "t1", r.TaskID)
	assert.Equal(t, "drv-7", r.Driver)
	require.NotNil(t, r.TargetAt)
	assert.Equal(t, at.Add(4*time.Hour), *r.TargetAt)
}

func TestStatusMirrorFollowsTheTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eta := at.Add(2 * time.Hour)

	require.NoError(t, f.consumer.HandleAccepted(ctx, env("e1", events.TypeTaskAccepted), accepted()))
	require.NoError(t, f.consumer.HandleInTransit(ctx, env("e2", events.TypeTaskInTransit), events.TaskInTransit{
		TaskID: "t1", RequestID: "r1", Driver: "drv-7", DepartedAt: at, ETA: &eta,
	}))
	r, err := f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusInTransit, r.Status)
	require.NotNil(t, r.ETA)
	assert.Equal(t, eta, *r.ETA)

	require.NoError(t, f.consumer.HandleException(ctx, env("e3", events.TypeTaskException), events.TaskException{
		TaskID: "t1", RequestID: "r1", Kind: events.ExceptionAccessDenied, Description: "gate locked", ReportedAt: at, ReportedBy: "drv-7",
	}))
	r, err = f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusException, r.Status)
	require.NotNil(t, r.Exception)
	assert.Equal(t, "gate locked", r.Exception.Description)

	require.NoError(t, f.consumer.HandleDelivered(ctx, env("e4", events.TypeTaskDelivered), delivered()))
	r, err = f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusDelivered, r.Status)
	require.NotNil(t, r.Delivery)
	assert.Equal(t, "bob", r.Delivery.ReceivedBy)
	assert.True(t, r.Delivery.OnTime)

	// draft, ready, then four mirrored events
	assert.Len(t, r.History, 6)
	assert.Equal(t, "e4", r.History[5].EventID)
}

func TestRedeliveredEventIsAppliedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := env("e1", events.TypeTaskAccepted)

	require.NoError(t, f.consumer.HandleAccepted(ctx, e, accepted()))
	require.NoError(t, f.consumer.HandleAccepted(ctx, e, accepted()))

	r, err := f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, r.History, 3)
}

func TestUnknownRequestIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	p := accepted()
	p.RequestID = "elsewhere"
	assert.NoError(t, f.consumer.HandleAccepted(context.Background(), env("e1", events.TypeTaskAccepted), p))

	d := delivered()
	d.RequestID = "elsewhere"
	assert.NoError(t, f.consumer.NotifyDelivered(context.Background(), env("e2", events.TypeTaskDelivered), d))
	assert.Empty(t, f.notes.all())
}

func TestEventsAfterCancellationAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.requests.Cancel(ctx, "r1", "not needed", at)
	require.NoError(t, err)

	require.NoError(t, f.consumer.HandleDelivered(ctx, env("e1", events.TypeTaskDelivered), delivered()))
	r, err := f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusCancelled, r.Status)
	assert.Nil(t, r.Delivery)
}

func TestRequesterIsNotified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := delivered()
	late.OnTime = false
	require.NoError(t, f.consumer.NotifyDelivered(ctx, env("e1", events.TypeTaskDelivered), late))
	require.NoError(t, f.consumer.NotifyException(ctx, env("e2", events.TypeTaskException), events.TaskException{
		TaskID: "t1", RequestID: "r1", Kind: events.ExceptionShortage, Description: "2 bags missing", ReportedBy: "drv-7",
	}))

	sent := f.notes.all()
	require.Len(t, sent, 2)
	assert.Equal(t, notify.KindDelivered, sent[0].Kind)
	assert.Equal(t, "alice", sent[0].Recipient)
	assert.Equal(t, "r1", sent[0].EntityID)
	assert.Contains(t, sent[0].Body, "late")
	assert.Equal(t, "MR-0001", sent[0].Fields["request_number"])

	assert.Equal(t, notify.KindException, sent[1].Kind)
	assert.Equal(t, "Delivery problem: shortage", sent[1].Subject)
}

func TestEndToEndOverBus(t *testing.T) {
	f := newFixture(t)
	bus := stream.NewMemory(0, logging.Discard(), stream.Options{PollInterval: 10 * time.Millisecond})
	t.Cleanup(bus.Close)
	sub := integration.NewSubscriber(bus, dlq.NewQueue(bus, logging.Discard(), nil), logging.Discard(), "test")
	f.consumer.Register(sub)
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(sub.Stop)

	ctx := context.Background()
	_, raw, err := events.Encode(delivered(), time.Now())
	require.NoError(t, err)
	_, err = bus.Publish(ctx, events.TopicTaskDelivered, raw)
	require.NoError(t, err)
	// The same entry appended twice models a producer retry after a lost ack.
	// History dedups it; notifications are at-least-once.
	_, err = bus.Publish(ctx, events.TopicTaskDelivered, raw)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		r, err := f.requests.Get(ctx, "r1")
		return err == nil && r.Status == requests.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	for _, group := range []string{GroupStatusMirror, GroupNotifications} {
		assert.Eventually(t, func() bool {
			cursor, err := bus.Cursor(ctx, events.TopicTaskDelivered, group, "test")
			info, _ := bus.TopicInfo(ctx, events.TopicTaskDelivered)
			return err == nil && cursor == info.LastID
		}, 2*time.Second, 10*time.Millisecond, group)
	}

	r, err := f.requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, r.History, 3)
	assert.Len(t, f.notes.all(), 2)
}
