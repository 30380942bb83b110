package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
)

// ValidationError lists every problem found in one payload.
type ValidationError struct {
	EventType string
	Problems  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.EventType, strings.Join(e.Problems, "; "))
}

type checker struct {
	eventType string
	problems  []string
}

func (c *checker) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		c.problems = append(c.problems, field+" is required")
	}
}

func (c *checker) timestamp(field string, t time.Time) {
	if t.IsZero() {
		c.problems = append(c.problems, field+" is required")
	}
}

func (c *checker) priority(p deadline.Priority) {
	if !p.Valid() {
		c.problems = append(c.problems, fmt.Sprintf("priority %q is not valid", p))
	}
}

func (c *checker) check(ok bool, problem string) {
	if !ok {
		c.problems = append(c.problems, problem)
	}
}

func (c *checker) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &ValidationError{EventType: c.eventType, Problems: c.problems}
}

func (p ReadyForCollection) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("request_id", p.RequestID)
	c.required("request_number", p.RequestNumber)
	c.required("pickup_location", p.PickupLocation)
	c.required("delivery_location", p.DeliveryLocation)
	c.required("requested_by", p.RequestedBy)
	c.priority(p.Priority)
	c.timestamp("ready_at", p.ReadyAt)
	c.check(len(p.Items) > 0, "at least one item is required")
	for i, item := range p.Items {
		c.required(fmt.Sprintf("items[%d].code", i), item.Code)
		c.check(item.Quantity > 0, fmt.Sprintf("items[%d].quantity must be positive", i))
	}
	return c.err()
}

func (p RequestUpdated) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("request_id", p.RequestID)
	c.required("delivery_location", p.DeliveryLocation)
	c.required("updated_by", p.UpdatedBy)
	c.priority(p.Priority)
	c.timestamp("updated_at", p.UpdatedAt)
	return c.err()
}

func (p RequestCancelled) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("request_id", p.RequestID)
	c.required("cancelled_by", p.CancelledBy)
	c.timestamp("cancelled_at", p.CancelledAt)
	return c.err()
}

func (p RequestOnHold) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("request_id", p.RequestID)
	c.required("reason", p.Reason)
	c.required("held_by", p.HeldBy)
	c.timestamp("held_at", p.HeldAt)
	return c.err()
}

func (p TaskAccepted) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("task_id", p.TaskID)
	c.required("request_id", p.RequestID)
	c.required("assigned_to", p.AssignedTo)
	c.timestamp("accepted_at", p.AcceptedAt)
	c.timestamp("target_at", p.TargetAt)
	c.check(p.SLAMinutes > 0, "sla_minutes must be positive")
	return c.err()
}

func (p TaskInTransit) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("task_id", p.TaskID)
	c.required("request_id", p.RequestID)
	c.required("driver", p.Driver)
	c.timestamp("departed_at", p.DepartedAt)
	return c.err()
}

func (p TaskDelivered) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("task_id", p.TaskID)
	c.required("request_id", p.RequestID)
	c.required("received_by", p.ReceivedBy)
	c.timestamp("delivered_at", p.DeliveredAt)
	c.check(p.PhotoCount >= 0, "photo_count must not be negative")
	return c.err()
}

func (p TaskException) Validate() error {
	c := &checker{eventType: p.EventType()}
	c.required("task_id", p.TaskID)
	c.required("request_id", p.RequestID)
	c.required("description", p.Description)
	c.required("reported_by", p.ReportedBy)
	c.timestamp("reported_at", p.ReportedAt)
	c.check(p.Kind.Valid(), fmt.Sprintf("kind %q is not valid", p.Kind))
	return c.err()
}
