// Package requests is the materials application's local store of material
// requests.
package requests

import (
	"errors"
	"slices"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
)

// EntityType is the deadline-engine entity type of a material request.
const EntityType = "material_request"

var (
	ErrNotFound          = errors.New("request not found")
	ErrInvalidTransition = errors.New("invalid request status transition")
)

// Status is the lifecycle state of a request as seen by materials. The
// states after StatusReady mirror the delivery task in logistics.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready_for_collection"
	StatusAccepted  Status = "accepted"
	StatusInTransit Status = "in_transit"
	StatusException Status = "exception"
	StatusOnHold    Status = "on_hold"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Change is one entry of a request's status history. EventID is set when the
// change came from a logistics event and is used to drop redeliveries.
type Change struct {
	Status  Status    `json:"status"`
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	EventID string    `json:"event_id,omitempty"`
	Note    string    `json:"note,omitempty"`
}

// Delivery is the logistics-side proof of delivery mirrored onto a request.
type Delivery struct {
	DeliveredAt  time.Time        `json:"delivered_at"`
	ReceivedBy   string           `json:"received_by"`
	PhotoCount   int              `json:"photo_count"`
	HasSignature bool             `json:"has_signature"`
	Location     *events.GeoPoint `json:"location,omitempty"`
	OnTime       bool             `json:"on_time"`
}

// Exception is the last delivery problem reported by logistics.
type Exception struct {
	Kind        events.ExceptionKind `json:"kind"`
	Description string               `json:"description"`
	ReportedAt  time.Time            `json:"reported_at"`
	ReportedBy  string               `json:"reported_by"`
}

// Request is a material request raised by site staff.
type Request struct {
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	Items            []events.Item     `json:"items"`
	PickupLocation   string            `json:"pickup_location"`
	DeliveryLocation string            `json:"delivery_location"`
	Priority         deadline.Priority `json:"priority"`
	RequiredBy       *time.Time        `json:"required_by,omitempty"`
	RequestedBy      string            `json:"requested_by"`
	Notes            string            `json:"notes,omitempty"`
	Status           Status            `json:"status"`

	TaskID     string     `json:"task_id,omitempty"`
	Driver     string     `json:"driver,omitempty"`
	TargetAt   *time.Time `json:"target_at,omitempty"`
	ETA        *time.Time `json:"eta,omitempty"`
	Delivery   *Delivery  `json:"delivery,omitempty"`
	Exception  *Exception `json:"exception,omitempty"`
	HoldReason string     `json:"hold_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	History []Change `json:"history"`
}

// Released reports whether the request was handed to logistics.
func (r Request) Released() bool {
	return r.ReleasedAt != nil
}

// Subject returns the deadline view of the request, measured from release.
// ok is false for a request that was never released.
func (r Request) Subject() (deadline.Subject, bool) {
	if r.ReleasedAt == nil {
		return deadline.Subject{}, false
	}
	var done *time.Time
	switch {
	case r.Delivery != nil:
		d := r.Delivery.DeliveredAt
		done = &d
	case r.CancelledAt != nil:
		done = r.CancelledAt
	}
	return deadline.Subject{
		EntityType:  EntityType,
		Priority:    r.Priority,
		CreatedAt:   *r.ReleasedAt,
		CompletedAt: done,
	}, true
}

func (r Request) seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	return slices.ContainsFunc(r.History, func(c Change) bool { return c.EventID == eventID })
}

func (r Request) clone() Request {
	c := r
	c.Items = slices.Clone(r.Items)
	c.History = slices.Clone(r.History)
	if r.Delivery != nil {
		d := *r.Delivery
		c.Delivery = &d
	}
	if r.Exception != nil {
		e := *r.Exception
		c.Exception = &e
	}
	return c
}

// Filter narrows List.
type Filter struct {
	Status      Status
	RequestedBy string
}

func (f Filter) match(r Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return f.RequestedBy == "" || r.RequestedBy == f.RequestedBy
}
