// Package consumer mirrors logistics task events onto material requests.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
	"github.com/telhawk-systems/logistics-bridge/common/notify"
	"github.com/telhawk-systems/logistics-bridge/common/xref"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
)

// Consumer groups owned by the materials application.
const (
	GroupStatusMirror  = "materials-status-mirror"
	GroupNotifications = "materials-notifications"
)

// Consumer keeps request status in step with the delivery task and tells
// requesters about deliveries and problems.
type Consumer struct {
	requests *requests.Store
	xref     xref.Store
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Consumer. notifier and m may be nil.
func New(store *requests.Store, refs xref.Store, notifier notify.Notifier, logger *logging.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		requests: store,
		xref:     refs,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Register routes the logistics topics to their consumer groups.
func (c *Consumer) Register(s *integration.Subscriber) {
	s.Handle(events.TopicTaskAccepted, GroupStatusMirror, integration.On(c.HandleAccepted))
	s.Handle(events.TopicTaskInTransit, GroupStatusMirror, integration.On(c.HandleInTransit))
	s.Handle(events.TopicTaskDelivered, GroupStatusMirror, integration.On(c.HandleDelivered))
	s.Handle(events.TopicTaskException, GroupStatusMirror, integration.On(c.HandleException))

	s.Handle(events.TopicTaskDelivered, GroupNotifications, integration.On(c.NotifyDelivered))
	s.Handle(events.TopicTaskException, GroupNotifications, integration.On(c.NotifyException))
}

// HandleAccepted links the task to the request and marks it accepted. The
// task-to-request mapping is claimed first so the link survives even when
// the request update is skipped.
func (c *Consumer) HandleAccepted(ctx context.Context, env events.Envelope, p events.TaskAccepted) error {
	owner, claimed, err := c.xref.PutIfAbsent(ctx, xref.Key(xref.KindLogisticsTask, p.TaskID), p.RequestID)
	if err != nil {
		return fmt.Errorf("failed to map task %s: %w", p.TaskID, err)
	}
	if owner != p.RequestID {
		c.logger.WarnContext(ctx, "task already mapped to another request",
			logging.TaskID(p.TaskID), logging.MaterialRequestID(p.RequestID), "mapped_to", owner)
	}

	target := p.TargetAt
	return c.mirror(ctx, env, p.RequestID, requests.StatusAccepted, "accepted by "+p.AssignedTo, func(r *requests.Request) {
		r.TaskID = p.TaskID
		r.Driver = p.AssignedTo
		r.TargetAt = &target
	}, "mapping_claimed", claimed)
}

// HandleInTransit records the departure and the ETA if one was given.
func (c *Consumer) HandleInTransit(ctx context.Context, env events.Envelope, p events.TaskInTransit) error {
	return c.mirror(ctx, env, p.RequestID, requests.StatusInTransit, "", func(r *requests.Request) {
		r.TaskID = p.TaskID
		if p.Driver != "" {
			r.Driver = p.Driver
		}
		if p.ETA != nil {
			eta := *p.ETA
			r.ETA = &eta
		}
	})
}

// HandleDelivered records the proof of delivery.
func (c *Consumer) HandleDelivered(ctx context.Context, env events.Envelope, p events.TaskDelivered) error {
	return c.mirror(ctx, env, p.RequestID, requests.StatusDelivered, "received by "+p.ReceivedBy, func(r *requests.Request) {
		r.TaskID = p.TaskID
		r.Delivery = &requests.Delivery{
			DeliveredAt:  p.DeliveredAt,
			ReceivedBy:   p.ReceivedBy,
			PhotoCount:   p.PhotoCount,
			HasSignature: p.HasSignature,
			Location:     p.Location,
			OnTime:       p.OnTime,
		}
	}, "on_time", p.OnTime)
}

// HandleException records the reported delivery problem.
func (c *Consumer) HandleException(ctx context.Context, env events.Envelope, p events.TaskException) error {
	return c.mirror(ctx, env, p.RequestID, requests.StatusException, string(p.Kind), func(r *requests.Request) {
		r.TaskID = p.TaskID
		r.Exception = &requests.Exception{
			Kind:        p.Kind,
			Description: p.Description,
			ReportedAt:  p.ReportedAt,
			ReportedBy:  p.ReportedBy,
		}
	}, "kind", p.Kind)
}

// NotifyDelivered tells the requester the goods arrived.
func (c *Consumer) NotifyDelivered(ctx context.Context, env events.Envelope, p events.TaskDelivered) error {
	body := fmt.Sprintf("Received by %s at %s.", p.ReceivedBy, p.DeliveredAt.UTC().Format(time.RFC3339))
	if !p.OnTime {
		body += " The delivery was late."
	}
	return c.notifyRequester(ctx, env, p.RequestID, notify.Notification{
		Kind:     notify.KindDelivered,
		Subject:  "Materials delivered",
		Body:     body,
		Severity: "info",
		Fields:   map[string]string{"task_id": p.TaskID, "received_by": p.ReceivedBy},
	})
}

// NotifyException tells the requester about a delivery problem.
func (c *Consumer) NotifyException(ctx context.Context, env events.Envelope, p events.TaskException) error {
	return c.notifyRequester(ctx, env, p.RequestID, notify.Notification{
		Kind:     notify.KindException,
		Subject:  "Delivery problem: " + string(p.Kind),
		Body:     p.Description,
		Severity: "warning",
		Fields:   map[string]string{"task_id": p.TaskID, "reported_by": p.ReportedBy},
	})
}

// mirror applies one logistics status to the request. Events for unknown
// requests and events that no longer apply are acknowledged without effect.
func (c *Consumer) mirror(ctx context.Context, env events.Envelope, requestID string, status requests.Status, note string, fn func(*requests.Request), attrs ...any) error {
	r, applied, err := c.requests.Mirror(ctx, requestID, requests.Change{
		Status:  status,
		At:      env.Timestamp,
		Source:  env.Source,
		EventID: env.EventID,
		Note:    note,
	}, fn)
	switch {
	case errors.Is(err, requests.ErrNotFound):
		c.metrics.ObserveMappingMissing(events.TopicFor(env.EventType))
		c.logger.WarnContext(ctx, "no request for task event, skipping",
			logging.MaterialRequestID(requestID), logging.EventType(env.EventType), logging.EventID(env.EventID))
		return nil
	case errors.Is(err, requests.ErrInvalidTransition):
		c.logger.WarnContext(ctx, "event does not apply to request state, skipping",
			logging.MaterialRequestID(requestID), logging.EventType(env.EventType), logging.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("failed to mirror %s onto request %s: %w", env.EventType, requestID, err)
	}
	if !applied {
		c.logger.DebugContext(ctx, "event already applied", logging.MaterialRequestID(requestID), logging.EventID(env.EventID))
		return nil
	}
	args := append([]any{logging.MaterialRequestID(requestID), logging.EventType(env.EventType), "status", r.Status}, attrs...)
	c.logger.InfoContext(ctx, "request status mirrored", args...)
	return nil
}

func (c *Consumer) notifyRequester(ctx context.Context, env events.Envelope, requestID string, n notify.Notification) error {
	if c.notifier == nil {
		return nil
	}
	r, err := c.requests.Get(ctx, requestID)
	if errors.Is(err, requests.ErrNotFound) {
		c.logger.WarnContext(ctx, "no request to notify about, skipping",
			logging.MaterialRequestID(requestID), logging.EventType(env.EventType), logging.EventID(env.EventID))
		return nil
	}
	if err != nil {
		return err
	}
	if r.RequestedBy == "" {
		return nil
	}
	n.Recipient = r.RequestedBy
	n.EntityID = r.ID
	n.At = c.now().UTC()
	if n.Fields == nil {
		n.Fields = map[string]string{}
	}
	n.Fields["request_number"] = r.Number
	c.notifier.Notify(ctx, n)
	return nil
}
