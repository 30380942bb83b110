package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store holds tasks in memory. All methods are safe for concurrent use and
// return copies.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]Task
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]Task), now: time.Now}
}

// Create inserts t. Creating an ID that already exists returns the stored
// task with created=false, so redelivered creation events are harmless.
func (s *Store) Create(_ context.Context, t Task) (Task, bool, error) {
	if t.ID == "" {
		return Task{}, false, fmt.Errorf("task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[t.ID]; ok {
		return existing.clone(), false, nil
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusPending
	}
	s.tasks[t.ID] = t.clone()
	return t.clone(), true, nil
}

// Get returns the task with id.
func (s *Store) Get(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t.clone(), nil
}

// List returns matching tasks ordered by creation time.
func (s *Store) List(_ context.Context, f Filter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.match(t) {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update applies fn to the stored task atomically. If fn returns an error
// nothing is written.
func (s *Store) Update(_ context.Context, id string, fn func(*Task) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	t = t.clone()
	if err := fn(&t); err != nil {
		return Task{}, err
	}
	t.UpdatedAt = s.now().UTC()
	s.tasks[id] = t
	return t.clone(), nil
}

// Accept assigns the task to a driver.
func (s *Store) Accept(ctx context.Context, id, driver string, at time.Time) (Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusPending {
			return transitionError(t.Status, StatusAccepted)
		}
		t.Status = StatusAccepted
		t.AssignedTo = driver
		t.AcceptedAt = &at
		return nil
	})
}

// Depart marks the goods as having left the pickup location.
func (s *Store) Depart(ctx context.Context, id string, at time.Time) (Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusAccepted && t.Status != StatusException {
			return transitionError(t.Status, StatusInTransit)
		}
		t.Status = StatusInTransit
		t.DepartedAt = &at
		return nil
	})
}

// ReportException records a delivery problem.
func (s *Store) ReportException(ctx context.Context, id string, ex Exception) (Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusAccepted && t.Status != StatusInTransit && t.Status != StatusException {
			return transitionError(t.Status, StatusException)
		}
		t.Status = StatusException
		t.Exception = &ex
		return nil
	})
}

// Complete closes the task with a delivery confirmation. Completing again
// with the same confirmation local ID returns the task unchanged and
// completed=false.
func (s *Store) Complete(ctx context.Context, id string, conf Confirmation) (Task, bool, error) {
	completed := false
	t, err := s.Update(ctx, id, func(t *Task) error {
		if t.Status == StatusDelivered && t.Confirmation != nil && t.Confirmation.LocalID == conf.LocalID {
			return nil
		}
		if t.Status.Terminal() || t.Status == StatusPending || t.Status == StatusOnHold {
			return transitionError(t.Status, StatusDelivered)
		}
		at := conf.DeliveredAt
		t.Status = StatusDelivered
		t.CompletedAt = &at
		t.Confirmation = &conf
		completed = true
		return nil
	})
	return t, completed, err
}

// Cancel withdraws the task. Cancelling a cancelled task is a no-op.
func (s *Store) Cancel(ctx context.Context, id, reason string, at time.Time) (Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		switch t.Status {
		case StatusCancelled:
			return nil
		case StatusDelivered:
			return transitionError(t.Status, StatusCancelled)
		}
		t.Status = StatusCancelled
		t.CancelReason = reason
		t.CancelledAt = &at
		return nil
	})
}

// Hold pauses an open task, remembering the status to resume to.
func (s *Store) Hold(ctx context.Context, id, reason string) (Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		switch {
		case t.Status == StatusOnHold:
			t.HoldReason = reason
			return nil
		case t.Status.Terminal():
			return transitionError(t.Status, StatusOnHold)
		}
		t.HeldFrom = t.Status
		t.Status = StatusOnHold
		t.HoldReason = reason
		return nil
	})
}

// Resume releases a hold. Tasks that are not on hold are returned unchanged.
func (s *Store) Resume(ctx context.Context, id string) (Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusOnHold {
			return nil
		}
		t.Status = t.HeldFrom
		if t.Status == "" {
			t.Status = StatusPending
		}
		t.HeldFrom = ""
		t.HoldReason = ""
		return nil
	})
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
