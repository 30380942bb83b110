// Package producer publishes material request transitions for the
// logistics application.
package producer

import (
	"context"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
)

// Emitter publishes one typed payload.
type Emitter interface {
	Emit(ctx context.Context, p events.Payload) (events.Envelope, error)
}

// Producer turns request state into logistics-facing events. Changes to a
// request that was never released are skipped since logistics has no task
// for it.
type Producer struct {
	emitter Emitter
	logger  *logging.Logger
}

// New creates a Producer.
func New(emitter Emitter, logger *logging.Logger) *Producer {
	return &Producer{emitter: emitter, logger: logger}
}

// ReadyForCollection publishes the release of r.
func (p *Producer) ReadyForCollection(ctx context.Context, r requests.Request) error {
	if p.skip(ctx, r, events.TypeReadyForCollection) {
		return nil
	}
	return p.emit(ctx, events.ReadyForCollection{
		RequestID:        r.ID,
		RequestNumber:    r.Number,
		Items:            r.Items,
		PickupLocation:   r.PickupLocation,
		DeliveryLocation: r.DeliveryLocation,
		Priority:         r.Priority,
		RequiredBy:       r.RequiredBy,
		RequestedBy:      r.RequestedBy,
		Notes:            r.Notes,
		ReadyAt:          *r.ReleasedAt,
	})
}

// Updated publishes the mutable fields of r.
func (p *Producer) Updated(ctx context.Context, r requests.Request, by string) error {
	if p.skip(ctx, r, events.TypeRequestUpdated) {
		return nil
	}
	return p.emit(ctx, events.RequestUpdated{
		RequestID:        r.ID,
		TaskID:           r.TaskID,
		Priority:         r.Priority,
		DeliveryLocation: r.DeliveryLocation,
		RequiredBy:       r.RequiredBy,
		Notes:            r.Notes,
		UpdatedAt:        r.UpdatedAt,
		UpdatedBy:        by,
	})
}

// Cancelled publishes the withdrawal of r.
func (p *Producer) Cancelled(ctx context.Context, r requests.Request, reason, by string) error {
	if p.skip(ctx, r, events.TypeRequestCancelled) {
		return nil
	}
	at := r.UpdatedAt
	if r.CancelledAt != nil {
		at = *r.CancelledAt
	}
	return p.emit(ctx, events.RequestCancelled{
		RequestID:   r.ID,
		TaskID:      r.TaskID,
		Reason:      reason,
		CancelledAt: at,
		CancelledBy: by,
	})
}

// OnHold publishes the pause of r. expectedResume is optional.
func (p *Producer) OnHold(ctx context.Context, r requests.Request, by string, expectedResume *time.Time) error {
	if p.skip(ctx, r, events.TypeRequestOnHold) {
		return nil
	}
	return p.emit(ctx, events.RequestOnHold{
		RequestID:      r.ID,
		TaskID:         r.TaskID,
		Reason:         r.HoldReason,
		HeldAt:         r.UpdatedAt,
		HeldBy:         by,
		ExpectedResume: expectedResume,
	})
}

func (p *Producer) skip(ctx context.Context, r requests.Request, eventType string) bool {
	if r.Released() {
		return false
	}
	p.logger.InfoContext(ctx, "request not released for collection, not publishing",
		logging.MaterialRequestID(r.ID), logging.EventType(eventType))
	return true
}

func (p *Producer) emit(ctx context.Context, payload events.Payload) error {
	_, err := p.emitter.Emit(ctx, payload)
	return err
}
