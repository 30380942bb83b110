// Package service implements the material request operations. Each change
// is applied locally first and then published for logistics.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
)

var (
	// ErrInvalidInput marks requests rejected before any state change.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPublish marks a change that was applied locally but whose event
	// could not be published.
	ErrPublish = errors.New("event not published")
)

// Producer publishes request changes.
type Producer interface {
	ReadyForCollection(ctx context.Context, r requests.Request) error
	Updated(ctx context.Context, r requests.Request, by string) error
	Cancelled(ctx context.Context, r requests.Request, reason, by string) error
	OnHold(ctx context.Context, r requests.Request, by string, expectedResume *time.Time) error
}

// RequestView is a request with its deadline status once released.
type RequestView struct {
	requests.Request
	Deadline *deadline.Status `json:"deadline,omitempty"`
}

// Service coordinates the request store, the deadline engine and the
// producer.
type Service struct {
	store    *requests.Store
	engine   *deadline.Engine
	producer Producer
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a Service.
func New(store *requests.Store, engine *deadline.Engine, producer Producer, logger *logging.Logger) *Service {
	return &Service{store: store, engine: engine, producer: producer, logger: logger, now: time.Now}
}

// NewRequest describes a request raised by site staff.
type NewRequest struct {
	Number           string            `json:"number,omitempty"`
	Items            []events.Item     `json:"items"`
	PickupLocation   string            `json:"pickup_location"`
	DeliveryLocation string            `json:"delivery_location"`
	Priority         deadline.Priority `json:"priority"`
	RequiredBy       *time.Time        `json:"required_by,omitempty"`
	RequestedBy      string            `json:"requested_by"`
	Notes            string            `json:"notes,omitempty"`
}

func (in NewRequest) validate() error {
	var missing []string
	for _, f := range [][2]string{
		{"pickup_location", in.PickupLocation},
		{"delivery_location", in.DeliveryLocation},
		{"requested_by", in.RequestedBy},
	} {
		if f[1] == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if !in.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidInput, in.Priority)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	for i, item := range in.Items {
		if item.Code == "" || item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d] needs a code and a positive quantity", ErrInvalidInput, i)
		}
	}
	return nil
}

// Changes are the fields of a request that may be edited after creation.
// Nil fields are left as they are.
type Changes struct {
	Priority         *deadline.Priority `json:"priority,omitempty"`
	DeliveryLocation *string            `json:"delivery_location,omitempty"`
	RequiredBy       *time.Time         `json:"required_by,omitempty"`
	Notes            *string            `json:"notes,omitempty"`
	UpdatedBy        string             `json:"updated_by"`
}

// Create stores a draft request. Nothing is published until Release.
func (s *Service) Create(ctx context.Context, in NewRequest) (requests.Request, error) {
	if err := in.validate(); err != nil {
		return requests.Request{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return requests.Request{}, err
	}
	number := in.Number
	if number == "" {
		number = "MR-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[20:])
	}
	r, err := s.store.Create(ctx, requests.Request{
		ID:               id.String(),
		Number:           number,
		Items:            in.Items,
		PickupLocation:   in.PickupLocation,
		DeliveryLocation: in.DeliveryLocation,
		Priority:         in.Priority,
		RequiredBy:       in.RequiredBy,
		RequestedBy:      in.RequestedBy,
		Notes:            in.Notes,
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return requests.Request{}, err
	}
	s.logger.InfoContext(ctx, "material request created", logging.MaterialRequestID(r.ID), "number", r.Number)
	return r, nil
}

// Get returns a request with its deadline status.
func (s *Service) Get(ctx context.Context, id string) (RequestView, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	return s.view(r)
}

// List returns requests with their deadline status.
func (s *Service) List(ctx context.Context, f requests.Filter) ([]RequestView, error) {
	all, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]RequestView, 0, len(all))
	for _, r := range all {
		v, err := s.view(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Release marks the request ready for collection and publishes it.
func (s *Service) Release(ctx context.Context, id string) (requests.Request, error) {
	r, err := s.store.Release(ctx, id, s.now().UTC())
	if err != nil {
		return requests.Request{}, err
	}
	s.logger.InfoContext(ctx, "material request released", logging.MaterialRequestID(id))
	return r, published(s.producer.ReadyForCollection(ctx, r))
}

// Update edits an open request. A held request resumes.
func (s *Service) Update(ctx context.Context, id string, c Changes) (requests.Request, error) {
	if c.Priority != nil && !c.Priority.Valid() {
		return requests.Request{}, fmt.Errorf("%w: priority %q", ErrInvalidInput, *c.Priority)
	}
	if c.DeliveryLocation != nil && *c.DeliveryLocation == "" {
		return requests.Request{}, fmt.Errorf("%w: delivery_location cannot be empty", ErrInvalidInput)
	}
	now := s.now().UTC()
	r, err := s.store.Update(ctx, id, func(r *requests.Request) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: request is %s", requests.ErrInvalidTransition, r.Status)
		}
		if c.Priority != nil {
			r.Priority = *c.Priority
		}
		if c.DeliveryLocation != nil {
			r.DeliveryLocation = *c.DeliveryLocation
		}
		if c.RequiredBy != nil {
			r.RequiredBy = c.RequiredBy
		}
		if c.Notes != nil {
			r.Notes = *c.Notes
		}
		r.Resume(now)
		return nil
	})
	if err != nil {
		return requests.Request{}, err
	}
	s.logger.InfoContext(ctx, "material request updated", logging.MaterialRequestID(id), "status", r.Status)
	return r, published(s.producer.Updated(ctx, r, actor(c.UpdatedBy, r)))
}

// Cancel withdraws an open request.
func (s *Service) Cancel(ctx context.Context, id, reason, by string) (requests.Request, error) {
	r, err := s.store.Cancel(ctx, id, reason, s.now().UTC())
	if err != nil {
		return requests.Request{}, err
	}
	s.logger.InfoContext(ctx, "material request cancelled", logging.MaterialRequestID(id), "reason", reason)
	return r, published(s.producer.Cancelled(ctx, r, reason, actor(by, r)))
}

// Hold pauses a released request. expectedResume is optional.
func (s *Service) Hold(ctx context.Context, id, reason, by string, expectedResume *time.Time) (requests.Request, error) {
	if reason == "" {
		return requests.Request{}, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	r, err := s.store.Hold(ctx, id, reason, s.now().UTC())
	if err != nil {
		return requests.Request{}, err
	}
	s.logger.InfoContext(ctx, "material request on hold", logging.MaterialRequestID(id), "reason", reason)
	return r, published(s.producer.OnHold(ctx, r, actor(by, r), expectedResume))
}

// actor defaults the person behind a change to the requester.
func actor(by string, r requests.Request) string {
	if by != "" {
		return by
	}
	return r.RequestedBy
}

func published(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPublish, err)
}

func (s *Service) view(r requests.Request) (RequestView, error) {
	subject, ok := r.Subject()
	if !ok {
		return RequestView{Request: r}, nil
	}
	st, err := s.engine.Status(subject, s.now())
	if err != nil {
		return RequestView{}, err
	}
	return RequestView{Request: r, Deadline: &st}, nil
}
