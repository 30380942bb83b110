package requests

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store holds requests in memory. All methods are safe for concurrent use
// and return copies.
type Store struct {
	mu       sync.RWMutex
	requests map[string]Request
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{requests: make(map[string]Request), now: time.Now}
}

// Create inserts r as a draft.
func (s *Store) Create(_ context.Context, r Request) (Request, error) {
	if r.ID == "" {
		return Request{}, fmt.Errorf("request id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; ok {
		return Request{}, fmt.Errorf("request %s already exists", r.ID)
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Status = StatusDraft
	r.History = []Change{{Status: StatusDraft, At: r.CreatedAt, Source: "materials"}}
	s.requests[r.ID] = r.clone()
	return r.clone(), nil
}

// Get returns the request with id.
func (s *Store) Get(_ context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r.clone(), nil
}

// List returns matching requests ordered by creation time.
func (s *Store) List(_ context.Context, f Filter) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		if f.match(r) {
			out = append(out, r.clone())
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

// Update applies fn to the stored request atomically. If fn returns an error
// nothing is written.
func (s *Store) Update(_ context.Context, id string, fn func(*Request) error) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	r = r.clone()
	if err := fn(&r); err != nil {
		return Request{}, err
	}
	r.UpdatedAt = s.now().UTC()
	s.requests[id] = r
	return r.clone(), nil
}

// Release hands a draft request to logistics. Releasing twice is an invalid
// transition.
func (s *Store) Release(ctx context.Context, id string, at time.Time) (Request, error) {
	return s.Update(ctx, id, func(r *Request) error {
		if r.Status != StatusDraft {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
		}
		r.ReleasedAt = &at
		r.setStatus(Change{Status: StatusReady, At: at, Source: "materials"})
		return nil
	})
}

// Hold pauses a released request.
func (s *Store) Hold(ctx context.Context, id, reason string, at time.Time) (Request, error) {
	return s.Update(ctx, id, func(r *Request) error {
		if !r.Released() || r.Status.Terminal() || r.Status == StatusOnHold {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
		}
		r.HoldReason = reason
		r.setStatus(Change{Status: StatusOnHold, At: at, Source: "materials", Note: reason})
		return nil
	})
}

// Cancel withdraws an open request.
func (s *Store) Cancel(ctx context.Context, id, reason string, at time.Time) (Request, error) {
	return s.Update(ctx, id, func(r *Request) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
		}
		r.CancelledAt = &at
		r.setStatus(Change{Status: StatusCancelled, At: at, Source: "materials", Note: reason})
		return nil
	})
}

// Mirror records a status reported by logistics. A change whose event ID is
// already in the history is dropped and applied=false is returned. The
// status is set to the reported value unless that would move the request
// backwards, which happens when topics are consumed out of order. A held
// request stays on hold until a terminal status arrives; the change is still
// recorded so Resume picks it up. fn, if not nil, copies event details onto
// the request.
func (s *Store) Mirror(ctx context.Context, id string, c Change, fn func(*Request)) (Request, bool, error) {
	applied := false
	r, err := s.Update(ctx, id, func(r *Request) error {
		if r.seen(c.EventID) {
			return nil
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
		}
		if fn != nil {
			fn(r)
		}
		switch {
		case r.Status == StatusOnHold && !c.Status.Terminal():
		case r.Status == StatusOnHold:
			r.HoldReason = ""
			r.Status = c.Status
		case rank(c.Status) >= rank(r.Status):
			r.Status = c.Status
		}
		r.History = append(r.History, c)
		applied = true
		return nil
	})
	return r, applied, err
}

// Resume takes a held request off hold. It returns to the furthest status
// recorded in its history, including changes mirrored during the hold.
func (r *Request) Resume(at time.Time) {
	if r.Status != StatusOnHold {
		return
	}
	prev := StatusReady
	for _, h := range r.History {
		if h.Status != StatusOnHold && rank(h.Status) >= rank(prev) {
			prev = h.Status
		}
	}
	r.HoldReason = ""
	r.setStatus(Change{Status: prev, At: at, Source: "materials", Note: "resumed"})
}

func (r *Request) setStatus(c Change) {
	r.Status = c.Status
	r.History = append(r.History, c)
}

func rank(s Status) int {
	switch s {
	case StatusAccepted:
		return 1
	case StatusInTransit, StatusException:
		return 2
	case StatusDelivered, StatusCancelled:
		return 3
	}
	return 0
}
