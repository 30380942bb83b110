// Package tasks is the logistics application's local store of delivery tasks.
package tasks

import (
	"errors"
	"slices"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/events"
)

// EntityType is the deadline-engine entity type of a delivery task.
const EntityType = "delivery_task"

var (
	ErrNotFound          = errors.New("task not found")
	ErrExists            = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
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

// Confirmation is the proof of delivery attached to a completed task.
type Confirmation struct {
	LocalID      string           `json:"local_id"`
	ReceivedBy   string           `json:"received_by"`
	DeliveredAt  time.Time        `json:"delivered_at"`
	PhotoCount   int              `json:"photo_count"`
	HasSignature bool             `json:"has_signature"`
	Location     *events.GeoPoint `json:"location,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// Exception is the last problem reported against a task.
type Exception struct {
	Kind        events.ExceptionKind `json:"kind"`
	Description string               `json:"description"`
	ReportedAt  time.Time            `json:"reported_at"`
	ReportedBy  string               `json:"reported_by"`
}

// Task is one delivery job.
type Task struct {
	ID string `json:"id"`
	// RequestID references the originating material request. Tasks created
	// locally have none and publish no events.
	RequestID        string            `json:"request_id,omitempty"`
	RequestNumber    string            `json:"request_number,omitempty"`
	Items            []events.Item     `json:"items"`
	PickupLocation   string            `json:"pickup_location"`
	DeliveryLocation string            `json:"delivery_location"`
	Priority         deadline.Priority `json:"priority"`
	RequiredBy       *time.Time        `json:"required_by,omitempty"`
	RequestedBy      string            `json:"requested_by,omitempty"`
	Notes            string            `json:"notes,omitempty"`

	Status     Status `json:"status"`
	HeldFrom   Status `json:"held_from,omitempty"`
	HoldReason string `json:"hold_reason,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`

	SLAMinutes int       `json:"sla_minutes"`
	TargetAt   time.Time `json:"target_at"`

	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	AcceptedAt   *time.Time    `json:"accepted_at,omitempty"`
	DepartedAt   *time.Time    `json:"departed_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	Exception    *Exception    `json:"exception,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	// DeliveryPublished is set once task.delivered has been published.
	DeliveryPublished bool `json:"delivery_published"`
}

// Subject returns the deadline-engine view of the task. A cancelled task
// stops its clock at cancellation.
func (t Task) Subject() deadline.Subject {
	done := t.CompletedAt
	if done == nil {
		done = t.CancelledAt
	}
	return deadline.Subject{
		EntityType:  EntityType,
		Priority:    t.Priority,
		CreatedAt:   t.CreatedAt,
		CompletedAt: done,
	}
}

// Open reports whether the task still counts against its deadline.
func (t Task) Open() bool {
	return !t.Status.Terminal()
}

func (t Task) clone() Task {
	c := t
	c.Items = slices.Clone(t.Items)
	if t.Exception != nil {
		e := *t.Exception
		c.Exception = &e
	}
	if t.Confirmation != nil {
		conf := *t.Confirmation
		c.Confirmation = &conf
	}
	return c
}

// Filter narrows List.
type Filter struct {
	Status     Status
	AssignedTo string
	OpenOnly   bool
}

func (f Filter) match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.OpenOnly && !t.Open() {
		return false
	}
	return true
}
