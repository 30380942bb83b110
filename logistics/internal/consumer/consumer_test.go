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
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

// Monday 2025-03-03 16:30 UTC.
var readyAt = time.Date(2025, 3, 3, 16, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

type fixture struct {
	consumer *Consumer
	tasks    *tasks.Store
	xref     *xref.MemoryStore
	notes    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := deadline.NewEngine(deadline.DefaultCalendar(), deadline.DefaultSLATable(), 0)
	require.NoError(t, err)
	f := &fixture{tasks: tasks.NewStore(), xref: xref.NewMemoryStore(), notes: &recordingNotifier{}}
	f.consumer = New(f.tasks, f.xref, engine, f.notes, logging.Discard(), nil)
	return f
}

func ready(requestID string) events.ReadyForCollection {
	return events.ReadyForCollection{
		RequestID:        requestID,
		RequestNumber:    "MR-" + requestID,
		Items:            []events.Item{{Code: "CEM-25", Description: "Cement", Quantity: 10, Unit: "bag"}},
		PickupLocation:   "Yard A",
		DeliveryLocation: "Site 4",
		Priority:         deadline.PriorityCritical,
		RequestedBy:      "alice",
		ReadyAt:          readyAt,
	}
}

func TestReadyCreatesTaskWithDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.consumer.HandleReady(ctx, events.Envelope{}, ready("r1")))

	taskID, err := f.xref.Get(ctx, xref.Key(xref.KindMaterialRequest, "r1"))
	require.NoError(t, err)
	task, err := f.tasks.Get(ctx, taskID)
	require.NoError(t, err)

	assert.Equal(t, "r1", task.RequestID)
	assert.Equal(t, tasks.StatusPending, task.Status)
	assert.Equal(t, 60, task.SLAMinutes)
	assert.Equal(t, time.Date(2025, 3, 4, 8, 30, 0, 0, time.UTC), task.TargetAt)
	assert.Equal(t, readyAt, task.CreatedAt)
}

func TestRedeliveredReadyDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		require.NoError(t, f.consumer.HandleReady(ctx, events.Envelope{}, ready("r1")))
	}
	all, err := f.tasks.List(ctx, tasks.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRacingConsumersCreateOneTask(t *testing.T) {
	f := newFixture(t)
	engine, err := deadline.NewEngine(deadline.DefaultCalendar(), deadline.DefaultSLATable(), 0)
	require.NoError(t, err)
	other := New(f.tasks, f.xref, engine, nil, logging.Discard(), nil)

	var wg sync.WaitGroup
	for i := range 10 {
		c := f.consumer
		if i%2 == 1 {
			c = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.HandleReady(context.Background(), events.Envelope{}, ready("r1")))
		}()
	}
	wg.Wait()

	all, err := f.tasks.List(context.Background(), tasks.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStatusMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.consumer.HandleReady(ctx, events.Envelope{}, ready("r1")))
	taskID, err := f.xref.Get(ctx, xref.Key(xref.KindMaterialRequest, "r1"))
	require.NoError(t, err)
	_, err = f.tasks.Accept(ctx, taskID, "drv-7", readyAt)
	require.NoError(t, err)

	err = f.consumer.HandleOnHold(ctx, events.Envelope{}, events.RequestOnHold{
		RequestID: "r1", Reason: "site closed", HeldAt: readyAt, HeldBy: "lead",
	})
	require.NoError(t, err)
	task, err := f.tasks.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusOnHold, task.Status)

	err = f.consumer.HandleUpdated(ctx, events.Envelope{}, events.RequestUpdated{
		RequestID: "r1", TaskID: taskID, Priority: deadline.PriorityLow,
		DeliveryLocation: "Site 5", UpdatedAt: readyAt, UpdatedBy: "lead",
	})
	require.NoError(t, err)
	task, err = f.tasks.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusAccepted, task.Status)
	assert.Equal(t, "Site 5", task.DeliveryLocation)
	assert.Equal(t, 1440, task.SLAMinutes)

	err = f.consumer.HandleCancelled(ctx, events.Envelope{}, events.RequestCancelled{
		RequestID: "r1", Reason: "duplicate", CancelledAt: readyAt, CancelledBy: "lead",
	})
	require.NoError(t, err)
	task, err = f.tasks.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCancelled, task.Status)

	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()
	require.Len(t, f.notes.sent, 2)
	assert.Equal(t, "drv-7", f.notes.sent[1].Recipient)
	assert.Equal(t, notify.KindCancelled, f.notes.sent[1].Kind)
}

func TestMissingMappingIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	err := f.consumer.HandleCancelled(context.Background(), events.Envelope{EventType: events.TypeRequestCancelled},
		events.RequestCancelled{RequestID: "unknown", CancelledAt: readyAt, CancelledBy: "lead"})
	assert.NoError(t, err)

	err = f.consumer.HandleOnHold(context.Background(), events.Envelope{EventType: events.TypeRequestOnHold},
		events.RequestOnHold{RequestID: "r", TaskID: "ghost", Reason: "x", HeldAt: readyAt, HeldBy: "lead"})
	assert.NoError(t, err)
}

func TestCancelAfterDeliveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.consumer.HandleReady(ctx, events.Envelope{}, ready("r1")))
	taskID, err := f.xref.Get(ctx, xref.Key(xref.KindMaterialRequest, "r1"))
	require.NoError(t, err)
	_, err = f.tasks.Accept(ctx, taskID, "drv", readyAt)
	require.NoError(t, err)
	_, _, err = f.tasks.Complete(ctx, taskID, tasks.Confirmation{LocalID: "l", DeliveredAt: readyAt.Add(time.Hour)})
	require.NoError(t, err)

	err = f.consumer.HandleCancelled(ctx, events.Envelope{}, events.RequestCancelled{
		RequestID: "r1", CancelledAt: readyAt, CancelledBy: "lead",
	})
	require.NoError(t, err)
	task, err := f.tasks.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusDelivered, task.Status)
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
	_, raw, err := events.Encode(ready("r9"), time.Now())
	require.NoError(t, err)
	// The same entry appended twice models a producer retry after a lost ack.
	_, err = bus.Publish(ctx, events.TopicReadyForCollection, raw)
	require.NoError(t, err)
	_, err = bus.Publish(ctx, events.TopicReadyForCollection, raw)
	require.NoError(t, err)
	_, err = bus.Publish(ctx, events.TopicRequestCancelled, []byte(`{"garbage":true}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		info, err := bus.TopicInfo(ctx, events.TopicDeadLetter)
		return err == nil && info.Length == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		cursor, err := bus.Cursor(ctx, events.TopicReadyForCollection, GroupTaskCreation, "test")
		info, _ := bus.TopicInfo(ctx, events.TopicReadyForCollection)
		return err == nil && cursor == info.LastID
	}, 2*time.Second, 10*time.Millisecond)

	all, err := f.tasks.List(ctx, tasks.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
