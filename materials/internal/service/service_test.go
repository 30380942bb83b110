package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
)

type fakeProducer struct {
	mu    sync.Mutex
	calls []string
	by    []string
	err   error
}

func (f *fakeProducer) record(name, by string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.by = append(f.by, by)
	return f.err
}

func (f *fakeProducer) ReadyForCollection(_ context.Context, r requests.Request) error {
	return f.record("ready", r.RequestedBy)
}
func (f *fakeProducer) Updated(_ context.Context, _ requests.Request, by string) error {
	return f.record("updated", by)
}
func (f *fakeProducer) Cancelled(_ context.Context, _ requests.Request, _, by string) error {
	return f.record("cancelled", by)
}
func (f *fakeProducer) OnHold(_ context.Context, _ requests.Request, by string, _ *time.Time) error {
	return f.record("on_hold", by)
}

// Tuesday 2025-03-04 09:00 UTC.
var now = time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *fakeProducer) {
	t.Helper()
	engine, err := deadline.NewEngine(deadline.DefaultCalendar(), deadline.DefaultSLATable(), 0)
	require.NoError(t, err)
	prod := &fakeProducer{}
	s := New(requests.NewStore(), engine, prod, logging.Discard())
	s.now = func() time.Time { return now }
	return s, prod
}

func validRequest() NewRequest {
	return NewRequest{
		Items:            []events.Item{{Code: "CEM-25", Description: "Cement", Quantity: 10, Unit: "bag"}},
		PickupLocation:   "Yard A",
		DeliveryLocation: "Site 4",
		Priority:         deadline.PriorityHigh,
		RequestedBy:      "alice",
	}
}

func create(t *testing.T, s *Service) requests.Request {
	t.Helper()
	r, err := s.Create(context.Background(), validRequest())
	require.NoError(t, err)
	return r
}

func TestCreateValidates(t *testing.T) {
	s, prod := newService(t)
	ctx := context.Background()

	in := validRequest()
	in.RequestedBy = ""
	in.PickupLocation = ""
	_, err := s.Create(ctx, in)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "pickup_location, requested_by")

	in = validRequest()
	in.Priority = "whenever"
	_, err = s.Create(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidInput)

	in = validRequest()
	in.Items[0].Quantity = 0
	_, err = s.Create(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidInput)

	r := create(t, s)
	assert.Equal(t, requests.StatusDraft, r.Status)
	assert.Regexp(t, `^MR-[0-9A-F]{12}$`, r.Number)
	assert.Empty(t, prod.calls)
}

func TestReleasePublishesAndStartsDeadline(t *testing.T) {
	s, prod := newService(t)
	ctx := context.Background()
	r := create(t, s)

	v, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Deadline)

	_, err = s.Release(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ready"}, prod.calls)

	v, err = s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, v.Deadline)
	assert.Equal(t, requests.StatusReady, v.Status)
	assert.False(t, v.Deadline.IsBreached)

	_, err = s.Release(ctx, r.ID)
	assert.ErrorIs(t, err, requests.ErrInvalidTransition)
}

func TestUpdateResumesHeldRequest(t *testing.T) {
	s, prod := newService(t)
	ctx := context.Background()
	r := create(t, s)
	_, err := s.Release(ctx, r.ID)
	require.NoError(t, err)

	_, err = s.Hold(ctx, r.ID, "", "bob", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	held, err := s.Hold(ctx, r.ID, "site flooded", "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusOnHold, held.Status)

	critical := deadline.PriorityCritical
	updated, err := s.Update(ctx, r.ID, Changes{Priority: &critical})
	require.NoError(t, err)
	assert.Equal(t, requests.StatusReady, updated.Status)
	assert.Equal(t, deadline.PriorityCritical, updated.Priority)

	assert.Equal(t, []string{"ready", "on_hold", "updated"}, prod.calls)
	assert.Equal(t, []string{"alice", "bob", "alice"}, prod.by)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	s, _ := newService(t)
	r := create(t, s)

	bad := deadline.Priority("soon")
	_, err := s.Update(context.Background(), r.ID, Changes{Priority: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	empty := ""
	_, err = s.Update(context.Background(), r.ID, Changes{DeliveryLocation: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Update(context.Background(), "missing", Changes{})
	assert.ErrorIs(t, err, requests.ErrNotFound)
}

func TestCancelTerminal(t *testing.T) {
	s, prod := newService(t)
	ctx := context.Background()
	r := create(t, s)

	cancelled, err := s.Cancel(ctx, r.ID, "not needed", "")
	require.NoError(t, err)
	assert.Equal(t, requests.StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{"cancelled"}, prod.calls)

	_, err = s.Update(ctx, r.ID, Changes{})
	assert.ErrorIs(t, err, requests.ErrInvalidTransition)
}

func TestPublishFailureIsReturned(t *testing.T) {
	s, prod := newService(t)
	prod.err = errors.New("bus down")
	r := create(t, s)

	released, err := s.Release(context.Background(), r.ID)
	require.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, requests.StatusReady, released.Status)
}

func TestListFiltersByStatus(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	a := create(t, s)
	create(t, s)
	_, err := s.Release(ctx, a.ID)
	require.NoError(t, err)

	ready, err := s.List(ctx, requests.Filter{Status: requests.StatusReady})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)
	assert.NotNil(t, ready[0].Deadline)
}
