package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
	"github.com/telhawk-systems/logistics-bridge/common/tokens"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/capture"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/producer"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/remote"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/service"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

type fixture struct {
	srv    *httptest.Server
	store  *tasks.Store
	bus    *stream.Bus
	signer *tokens.Signer
}

func newFixture(t *testing.T, signer *tokens.Signer) *fixture {
	t.Helper()
	logger := logging.Discard()
	engine, err := deadline.NewEngine(deadline.DefaultCalendar(), deadline.DefaultSLATable(), 0)
	require.NoError(t, err)

	bus := stream.NewMemory(0, logger, stream.Options{})
	t.Cleanup(bus.Close)
	store := tasks.NewStore()
	svc := service.New(store, engine, producer.New(integration.NewPublisher(bus, logger), logger), logger)

	srv := httptest.NewServer(NewRouter(NewTaskHandler(svc, logger), signer))
	t.Cleanup(srv.Close)

	_, _, err = store.Create(context.Background(), tasks.Task{
		ID:               "task-1",
		RequestID:        "req-1",
		RequestNumber:    "MR-0001",
		DeliveryLocation: "Ward 4",
		Priority:         deadline.PriorityHigh,
		Status:           tasks.StatusPending,
		SLAMinutes:       240,
		TargetAt:         time.Now().Add(4 * time.Hour),
		CreatedAt:        time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	return &fixture{srv: srv, store: store, bus: bus, signer: signer}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) topicLen(t *testing.T, topic string) int64 {
	t.Helper()
	info, err := f.bus.TopicInfo(context.Background(), topic)
	require.NoError(t, err)
	return info.Length
}

func (f *fixture) client(t *testing.T) *remote.Client {
	t.Helper()
	c, err := remote.New(remote.Options{BaseURL: f.srv.URL, DeviceID: "van-7", Signer: f.signer, Timeout: 2 * time.Second}, logging.Discard())
	require.NoError(t, err)
	return c
}

func upload(taskID, localID string) capture.Record {
	return capture.Record{
		LocalID:        localID,
		TargetEntityID: taskID,
		CapturedAt:     time.Now().UTC(),
		Payload: capture.Payload{
			ReceivedBy:  "Nurse Kim",
			DeliveredAt: time.Now().UTC(),
			Photos:      []capture.Attachment{{Name: "p.jpg", ContentType: "image/jpeg", Data: []byte{1}}},
			Signature:   &capture.Attachment{Name: "s.png", ContentType: "image/png", Data: []byte{2}},
		},
	}
}

func TestGetIncludesDeadline(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get(t, "/api/v1/tasks/task-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view service.TaskView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "MR-0001", view.RequestNumber)
	assert.False(t, view.Deadline.TargetAt.IsZero())

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/tasks/nope").StatusCode)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t, nil)

	var body struct {
		Tasks []service.TaskView `json:"tasks"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.NewDecoder(f.get(t, "/api/v1/tasks?status=pending").Body).Decode(&body))
	assert.Equal(t, 1, body.Count)

	require.NoError(t, json.NewDecoder(f.get(t, "/api/v1/tasks?status=delivered").Body).Decode(&body))
	assert.Equal(t, 0, body.Count)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/tasks?open=maybe").StatusCode)
}

func TestTransitionsPublishEvents(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/api/v1/tasks/task-1/accept", map[string]string{"driver": "drv-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, f.topicLen(t, events.TopicTaskAccepted))

	resp = f.post(t, "/api/v1/tasks/task-1/transit", map[string]any{"location": events.GeoPoint{Lat: 1, Lon: 2}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, f.topicLen(t, events.TopicTaskInTransit))

	resp = f.post(t, "/api/v1/tasks/task-1/exception", map[string]string{"kind": string(events.ExceptionDelayed), "description": "traffic"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, f.topicLen(t, events.TopicTaskException))
}

func TestTransitionErrors(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/v1/tasks/task-1/accept", map[string]string{}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/v1/tasks/task-1/accept", map[string]string{"pilot": "x"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/v1/tasks/nope/accept", map[string]string{"driver": "d"}).StatusCode)
	assert.Equal(t, http.StatusConflict, f.post(t, "/api/v1/tasks/task-1/transit", map[string]any{}).StatusCode)
	assert.EqualValues(t, 0, f.topicLen(t, events.TopicTaskInTransit))
}

func TestConfirmationUploadIsIdempotent(t *testing.T) {
	f := newFixture(t, tokens.NewSigner("device-secret", time.Minute))
	require.Equal(t, http.StatusOK, f.post(t, "/api/v1/tasks/task-1/accept", map[string]string{"driver": "drv-7"}).StatusCode)

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Upload(ctx, upload("task-1", "local-1")))
	require.NoError(t, c.Upload(ctx, upload("task-1", "local-1")))

	task, err := f.store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusDelivered, task.Status)
	assert.Equal(t, 1, task.Confirmation.PhotoCount)
	assert.True(t, task.Confirmation.HasSignature)
	assert.EqualValues(t, 1, f.topicLen(t, events.TopicTaskDelivered))
}

func TestConfirmationRequiresToken(t *testing.T) {
	f := newFixture(t, tokens.NewSigner("device-secret", time.Minute))
	f.signer = tokens.NewSigner("wrong-secret", time.Minute)

	err := f.client(t).Upload(context.Background(), upload("task-1", "local-1"))
	var perm *backoff.PermanentError
	require.ErrorAs(t, err, &perm)
	var serr *remote.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Status)
}

func TestConfirmationForPendingTaskIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	err := f.client(t).Upload(context.Background(), upload("task-1", "local-1"))
	var serr *remote.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusConflict, serr.Status)
}
