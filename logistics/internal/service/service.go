// Package service implements the logistics task operations: each state
// transition is applied locally and then published for materials.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

var (
	// ErrInvalidInput marks requests rejected before any state change.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPublish marks a transition that was applied locally but whose
	// event could not be published.
	ErrPublish = errors.New("event not published")
)

// Producer publishes task transitions.
type Producer interface {
	TaskAccepted(ctx context.Context, t tasks.Task) error
	TaskInTransit(ctx context.Context, t tasks.Task, eta *time.Time, location *events.GeoPoint) error
	TaskDelivered(ctx context.Context, t tasks.Task) error
	TaskException(ctx context.Context, t tasks.Task) error
}

// TaskView is a task with its live deadline status.
type TaskView struct {
	tasks.Task
	Deadline deadline.Status `json:"deadline"`
}

// Service coordinates the task store, the deadline engine and the producer.
type Service struct {
	store    *tasks.Store
	engine   *deadline.Engine
	producer Producer
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a Service.
func New(store *tasks.Store, engine *deadline.Engine, producer Producer, logger *logging.Logger) *Service {
	return &Service{store: store, engine: engine, producer: producer, logger: logger, now: time.Now}
}

// NewTask describes a task created directly in logistics.
type NewTask struct {
	Items            []events.Item     `json:"items"`
	PickupLocation   string            `json:"pickup_location"`
	DeliveryLocation string            `json:"delivery_location"`
	Priority         deadline.Priority `json:"priority"`
	Notes            string            `json:"notes,omitempty"`
}

// Create adds a task with no material request behind it.
func (s *Service) Create(ctx context.Context, in NewTask) (tasks.Task, error) {
	if !in.Priority.Valid() {
		return tasks.Task{}, fmt.Errorf("%w: priority %q", ErrInvalidInput, in.Priority)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return tasks.Task{}, err
	}
	now := s.now().UTC()
	target, err := s.engine.ComputeTarget(tasks.EntityType, in.Priority, now)
	if err != nil {
		return tasks.Task{}, err
	}
	t, _, err := s.store.Create(ctx, tasks.Task{
		ID:               id.String(),
		Items:            in.Items,
		PickupLocation:   in.PickupLocation,
		DeliveryLocation: in.DeliveryLocation,
		Priority:         in.Priority,
		Notes:            in.Notes,
		SLAMinutes:       target.SLAMinutes,
		TargetAt:         target.TargetAt,
		CreatedAt:        now,
	})
	return t, err
}

// Get returns a task with its deadline status.
func (s *Service) Get(ctx context.Context, id string) (TaskView, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	return s.view(t)
}

// List returns tasks with their deadline status.
func (s *Service) List(ctx context.Context, f tasks.Filter) ([]TaskView, error) {
	all, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]TaskView, 0, len(all))
	for _, t := range all {
		v, err := s.view(t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Accept assigns the task to driver and publishes task.accepted.
func (s *Service) Accept(ctx context.Context, id, driver string) (tasks.Task, error) {
	if driver == "" {
		return tasks.Task{}, fmt.Errorf("%w: driver is required", ErrInvalidInput)
	}
	t, err := s.store.Accept(ctx, id, driver, s.now().UTC())
	if err != nil {
		return tasks.Task{}, err
	}
	s.logger.InfoContext(ctx, "task accepted", logging.TaskID(id), "driver", driver)
	return t, published(s.producer.TaskAccepted(ctx, t))
}

// Depart marks the task in transit and publishes task.in_transit.
func (s *Service) Depart(ctx context.Context, id string, eta *time.Time, location *events.GeoPoint) (tasks.Task, error) {
	t, err := s.store.Depart(ctx, id, s.now().UTC())
	if err != nil {
		return tasks.Task{}, err
	}
	s.logger.InfoContext(ctx, "task in transit", logging.TaskID(id))
	return t, published(s.producer.TaskInTransit(ctx, t, eta, location))
}

// ReportException records a delivery problem and publishes task.exception.
// The reporter defaults to the assigned driver.
func (s *Service) ReportException(ctx context.Context, id string, kind events.ExceptionKind, description, reportedBy string) (tasks.Task, error) {
	if !kind.Valid() {
		return tasks.Task{}, fmt.Errorf("%w: exception kind %q", ErrInvalidInput, kind)
	}
	if description == "" {
		return tasks.Task{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if reportedBy == "" {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return tasks.Task{}, err
		}
		reportedBy = current.AssignedTo
	}
	t, err := s.store.ReportException(ctx, id, tasks.Exception{
		Kind:        kind,
		Description: description,
		ReportedAt:  s.now().UTC(),
		ReportedBy:  reportedBy,
	})
	if err != nil {
		return tasks.Task{}, err
	}
	s.logger.WarnContext(ctx, "task exception reported", logging.TaskID(id), "kind", kind)
	return t, published(s.producer.TaskException(ctx, t))
}

// ConfirmDelivery completes the task and publishes task.delivered. A repeat
// with the same confirmation local ID publishes nothing, unless the first
// attempt failed to publish.
func (s *Service) ConfirmDelivery(ctx context.Context, id string, conf tasks.Confirmation) (tasks.Task, bool, error) {
	if conf.LocalID == "" {
		return tasks.Task{}, false, fmt.Errorf("%w: confirmation local_id is required", ErrInvalidInput)
	}
	if conf.DeliveredAt.IsZero() {
		conf.DeliveredAt = s.now().UTC()
	}
	t, completed, err := s.store.Complete(ctx, id, conf)
	if err != nil {
		return tasks.Task{}, false, err
	}
	if !completed && t.DeliveryPublished {
		s.logger.InfoContext(ctx, "duplicate delivery confirmation", logging.TaskID(id), logging.LocalID(conf.LocalID))
		return t, false, nil
	}
	if completed {
		s.logger.InfoContext(ctx, "task delivered", logging.TaskID(id), logging.LocalID(conf.LocalID))
	}
	if err := s.producer.TaskDelivered(ctx, t); err != nil {
		return t, completed, published(err)
	}
	t, err = s.store.Update(ctx, id, func(t *tasks.Task) error {
		t.DeliveryPublished = true
		return nil
	})
	return t, completed, err
}

func published(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPublish, err)
}

func (s *Service) view(t tasks.Task) (TaskView, error) {
	st, err := s.engine.Status(t.Subject(), s.now())
	if err != nil {
		return TaskView{}, err
	}
	return TaskView{Task: t, Deadline: st}, nil
}
