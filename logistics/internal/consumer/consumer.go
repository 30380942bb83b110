// Package consumer applies materials events to the logistics task store.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
	"github.com/telhawk-systems/logistics-bridge/common/notify"
	"github.com/telhawk-systems/logistics-bridge/common/xref"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

// Consumer groups owned by the logistics application.
const (
	GroupTaskCreation = "logistics-task-creation"
	GroupStatusMirror = "logistics-status-mirror"
)

// Consumer creates and mirrors delivery tasks from material requests.
type Consumer struct {
	tasks    *tasks.Store
	xref     xref.Store
	engine   *deadline.Engine
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  *metrics.Metrics
	newID    func() (string, error)
}

// New creates a Consumer. notifier and m may be nil.
func New(store *tasks.Store, refs xref.Store, engine *deadline.Engine, notifier notify.Notifier, logger *logging.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		tasks:    store,
		xref:     refs,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// Register routes the materials topics to their consumer groups.
func (c *Consumer) Register(s *integration.Subscriber) {
	s.Handle(events.TopicReadyForCollection, GroupTaskCreation, integration.On(c.HandleReady))
	s.Handle(events.TopicRequestUpdated, GroupStatusMirror, integration.On(c.HandleUpdated))
	s.Handle(events.TopicRequestCancelled, GroupStatusMirror, integration.On(c.HandleCancelled))
	s.Handle(events.TopicRequestOnHold, GroupStatusMirror, integration.On(c.HandleOnHold))
}

// HandleReady creates one task per material request. The mapping claim
// decides the task ID, so redelivery and racing consumers converge on the
// same task.
func (c *Consumer) HandleReady(ctx context.Context, env events.Envelope, p events.ReadyForCollection) error {
	candidate, err := c.newID()
	if err != nil {
		return fmt.Errorf("failed to generate task id: %w", err)
	}
	taskID, claimed, err := c.xref.PutIfAbsent(ctx, xref.Key(xref.KindMaterialRequest, p.RequestID), candidate)
	if err != nil {
		return fmt.Errorf("failed to claim task for request %s: %w", p.RequestID, err)
	}

	target, err := c.engine.ComputeTarget(tasks.EntityType, p.Priority, p.ReadyAt)
	if err != nil {
		return fmt.Errorf("failed to compute deadline: %w", err)
	}

	task, created, err := c.tasks.Create(ctx, tasks.Task{
		ID:               taskID,
		RequestID:        p.RequestID,
		RequestNumber:    p.RequestNumber,
		Items:            p.Items,
		PickupLocation:   p.PickupLocation,
		DeliveryLocation: p.DeliveryLocation,
		Priority:         p.Priority,
		RequiredBy:       p.RequiredBy,
		RequestedBy:      p.RequestedBy,
		Notes:            p.Notes,
		SLAMinutes:       target.SLAMinutes,
		TargetAt:         target.TargetAt,
		CreatedAt:        p.ReadyAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	c.logger.InfoContext(ctx, "delivery task ready",
		logging.TaskID(task.ID), logging.MaterialRequestID(p.RequestID),
		"created", created, "mapping_claimed", claimed, "target_at", task.TargetAt)
	return nil
}

// HandleUpdated mirrors priority, destination and notes. A changed
// priority recomputes the target from the original creation time.
func (c *Consumer) HandleUpdated(ctx context.Context, env events.Envelope, p events.RequestUpdated) error {
	taskID, ok, err := c.resolve(ctx, env, p.RequestID, p.TaskID)
	if !ok {
		return err
	}

	var target deadline.Target
	current, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return c.ignoreMissingTask(ctx, env, taskID, err)
	}
	if current.Priority != p.Priority {
		if target, err = c.engine.ComputeTarget(tasks.EntityType, p.Priority, current.CreatedAt); err != nil {
			return fmt.Errorf("failed to compute deadline: %w", err)
		}
	}

	task, err := c.tasks.Update(ctx, taskID, func(t *tasks.Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: task is %s", tasks.ErrInvalidTransition, t.Status)
		}
		t.Priority = p.Priority
		t.DeliveryLocation = p.DeliveryLocation
		t.RequiredBy = p.RequiredBy
		t.Notes = p.Notes
		if !target.TargetAt.IsZero() {
			t.SLAMinutes = target.SLAMinutes
			t.TargetAt = target.TargetAt
		}
		return nil
	})
	if err != nil {
		return c.ignoreTransition(ctx, env, taskID, err)
	}
	if task.Status == tasks.StatusOnHold {
		if task, err = c.tasks.Resume(ctx, taskID); err != nil {
			return c.ignoreMissingTask(ctx, env, taskID, err)
		}
	}
	c.logger.InfoContext(ctx, "task updated from request",
		logging.TaskID(taskID), logging.MaterialRequestID(p.RequestID), "status", task.Status)
	return nil
}

// HandleCancelled cancels the task unless it was already delivered.
func (c *Consumer) HandleCancelled(ctx context.Context, env events.Envelope, p events.RequestCancelled) error {
	taskID, ok, err := c.resolve(ctx, env, p.RequestID, p.TaskID)
	if !ok {
		return err
	}
	task, err := c.tasks.Cancel(ctx, taskID, p.Reason, p.CancelledAt.UTC())
	if err != nil {
		return c.ignoreTransition(ctx, env, taskID, err)
	}
	c.logger.InfoContext(ctx, "task cancelled from request", logging.TaskID(taskID), logging.MaterialRequestID(p.RequestID))
	c.notifyDriver(ctx, task, notify.KindCancelled, "Delivery cancelled", p.Reason)
	return nil
}

// HandleOnHold pauses the task.
func (c *Consumer) HandleOnHold(ctx context.Context, env events.Envelope, p events.RequestOnHold) error {
	taskID, ok, err := c.resolve(ctx, env, p.RequestID, p.TaskID)
	if !ok {
		return err
	}
	task, err := c.tasks.Hold(ctx, taskID, p.Reason)
	if err != nil {
		return c.ignoreTransition(ctx, env, taskID, err)
	}
	c.logger.InfoContext(ctx, "task on hold from request", logging.TaskID(taskID), logging.MaterialRequestID(p.RequestID))
	c.notifyDriver(ctx, task, notify.KindOnHold, "Delivery on hold", p.Reason)
	return nil
}

// resolve finds the task for an event: the explicit task ID first, then the
// mapping table. ok=false with a nil error means the event should be
// acknowledged without effect.
func (c *Consumer) resolve(ctx context.Context, env events.Envelope, requestID, taskID string) (string, bool, error) {
	if taskID != "" {
		return taskID, true, nil
	}
	id, err := c.xref.Get(ctx, xref.Key(xref.KindMaterialRequest, requestID))
	switch {
	case errors.Is(err, xref.ErrNotFound):
		c.metrics.ObserveMappingMissing(events.TopicFor(env.EventType))
		c.logger.WarnContext(ctx, "no task mapped to request, skipping",
			logging.MaterialRequestID(requestID), logging.EventType(env.EventType), logging.EventID(env.EventID))
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("failed to resolve task for request %s: %w", requestID, err)
	}
	return id, true, nil
}

func (c *Consumer) ignoreMissingTask(ctx context.Context, env events.Envelope, taskID string, err error) error {
	if !errors.Is(err, tasks.ErrNotFound) {
		return err
	}
	c.metrics.ObserveMappingMissing(events.TopicFor(env.EventType))
	c.logger.WarnContext(ctx, "mapped task does not exist, skipping",
		logging.TaskID(taskID), logging.EventType(env.EventType), logging.EventID(env.EventID))
	return nil
}

func (c *Consumer) ignoreTransition(ctx context.Context, env events.Envelope, taskID string, err error) error {
	if errors.Is(err, tasks.ErrInvalidTransition) {
		c.logger.WarnContext(ctx, "event does not apply to task state, skipping",
			logging.TaskID(taskID), logging.EventType(env.EventType), logging.Error(err))
		return nil
	}
	return c.ignoreMissingTask(ctx, env, taskID, err)
}

func (c *Consumer) notifyDriver(ctx context.Context, t tasks.Task, kind, subject, body string) {
	if c.notifier == nil || t.AssignedTo == "" {
		return
	}
	c.notifier.Notify(ctx, notify.Notification{
		Kind:      kind,
		Recipient: t.AssignedTo,
		Subject:   subject,
		Body:      body,
		EntityID:  t.ID,
		At:        time.Now().UTC(),
	})
}
