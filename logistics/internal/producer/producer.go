// Package producer publishes logistics task transitions for the materials
// application.
package producer

import (
	"context"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

// Emitter publishes one typed payload.
type Emitter interface {
	Emit(ctx context.Context, p events.Payload) (events.Envelope, error)
}

// Producer turns task state into materials-facing events. Tasks with no
// material request reference are skipped.
type Producer struct {
	emitter Emitter
	logger  *logging.Logger
}

// New creates a Producer.
func New(emitter Emitter, logger *logging.Logger) *Producer {
	return &Producer{emitter: emitter, logger: logger}
}

// TaskAccepted publishes the acceptance of t.
func (p *Producer) TaskAccepted(ctx context.Context, t tasks.Task) error {
	if p.skip(ctx, t, events.TypeTaskAccepted) {
		return nil
	}
	return p.emit(ctx, events.TaskAccepted{
		TaskID:     t.ID,
		RequestID:  t.RequestID,
		AssignedTo: t.AssignedTo,
		AcceptedAt: deref(t.AcceptedAt),
		TargetAt:   t.TargetAt,
		SLAMinutes: t.SLAMinutes,
	})
}

// TaskInTransit publishes the departure of t. eta and location are optional.
func (p *Producer) TaskInTransit(ctx context.Context, t tasks.Task, eta *time.Time, location *events.GeoPoint) error {
	if p.skip(ctx, t, events.TypeTaskInTransit) {
		return nil
	}
	return p.emit(ctx, events.TaskInTransit{
		TaskID:     t.ID,
		RequestID:  t.RequestID,
		Driver:     t.AssignedTo,
		DepartedAt: deref(t.DepartedAt),
		ETA:        eta,
		Location:   location,
	})
}

// TaskDelivered publishes the confirmed delivery of t.
func (p *Producer) TaskDelivered(ctx context.Context, t tasks.Task) error {
	if p.skip(ctx, t, events.TypeTaskDelivered) {
		return nil
	}
	conf := tasks.Confirmation{}
	if t.Confirmation != nil {
		conf = *t.Confirmation
	}
	return p.emit(ctx, events.TaskDelivered{
		TaskID:       t.ID,
		RequestID:    t.RequestID,
		DeliveredAt:  conf.DeliveredAt,
		ReceivedBy:   conf.ReceivedBy,
		PhotoCount:   conf.PhotoCount,
		HasSignature: conf.HasSignature,
		Location:     conf.Location,
		Notes:        conf.Notes,
		OnTime:       !conf.DeliveredAt.After(t.TargetAt),
	})
}

// TaskException publishes the last exception reported against t.
func (p *Producer) TaskException(ctx context.Context, t tasks.Task) error {
	if p.skip(ctx, t, events.TypeTaskException) {
		return nil
	}
	ex := tasks.Exception{}
	if t.Exception != nil {
		ex = *t.Exception
	}
	return p.emit(ctx, events.TaskException{
		TaskID:      t.ID,
		RequestID:   t.RequestID,
		Kind:        ex.Kind,
		Description: ex.Description,
		ReportedAt:  ex.ReportedAt,
		ReportedBy:  ex.ReportedBy,
	})
}

func (p *Producer) skip(ctx context.Context, t tasks.Task, eventType string) bool {
	if t.RequestID != "" {
		return false
	}
	p.logger.InfoContext(ctx, "task has no material request, not publishing",
		logging.TaskID(t.ID), logging.EventType(eventType))
	return true
}

func (p *Producer) emit(ctx context.Context, payload events.Payload) error {
	_, err := p.emitter.Emit(ctx, payload)
	return err
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
