package events

import (
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
)

// Payload is the closed set of event bodies. Only types in this package
// implement it.
type Payload interface {
	EventType() string
	Topic() string
	Source() string
	Validate() error
	isPayload()
}

// Item is one line of a material request.
type Item struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ReadyForCollection announces that a material request can be picked up.
type ReadyForCollection struct {
	RequestID        string            `json:"request_id"`
	RequestNumber    string            `json:"request_number"`
	Items            []Item            `json:"items"`
	PickupLocation   string            `json:"pickup_location"`
	DeliveryLocation string            `json:"delivery_location"`
	Priority         deadline.Priority `json:"priority"`
	RequiredBy       *time.Time        `json:"required_by,omitempty"`
	RequestedBy      string            `json:"requested_by"`
	Notes            string            `json:"notes,omitempty"`
	ReadyAt          time.Time         `json:"ready_at"`
}

// RequestUpdated carries the mutable fields of a released request.
type RequestUpdated struct {
	RequestID        string            `json:"request_id"`
	TaskID           string            `json:"task_id,omitempty"`
	Priority         deadline.Priority `json:"priority"`
	DeliveryLocation string            `json:"delivery_location"`
	RequiredBy       *time.Time        `json:"required_by,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
	UpdatedBy        string            `json:"updated_by"`
}

// RequestCancelled withdraws a released request.
type RequestCancelled struct {
	RequestID   string    `json:"request_id"`
	TaskID      string    `json:"task_id,omitempty"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
	CancelledBy string    `json:"cancelled_by"`
}

// RequestOnHold pauses a released request.
type RequestOnHold struct {
	RequestID      string     `json:"request_id"`
	TaskID         string     `json:"task_id,omitempty"`
	Reason         string     `json:"reason"`
	HeldAt         time.Time  `json:"held_at"`
	HeldBy         string     `json:"held_by"`
	ExpectedResume *time.Time `json:"expected_resume,omitempty"`
}

// TaskAccepted reports that a driver accepted a delivery task.
type TaskAccepted struct {
	TaskID     string    `json:"task_id"`
	RequestID  string    `json:"request_id"`
	AssignedTo string    `json:"assigned_to"`
	AcceptedAt time.Time `json:"accepted_at"`
	TargetAt   time.Time `json:"target_at"`
	SLAMinutes int       `json:"sla_minutes"`
}

// TaskInTransit reports that goods left the pickup location.
type TaskInTransit struct {
	TaskID     string     `json:"task_id"`
	RequestID  string     `json:"request_id"`
	Driver     string     `json:"driver"`
	DepartedAt time.Time  `json:"departed_at"`
	ETA        *time.Time `json:"eta,omitempty"`
	Location   *GeoPoint  `json:"location,omitempty"`
}

// TaskDelivered reports a confirmed delivery.
type TaskDelivered struct {
	TaskID       string    `json:"task_id"`
	RequestID    string    `json:"request_id"`
	DeliveredAt  time.Time `json:"delivered_at"`
	ReceivedBy   string    `json:"received_by"`
	PhotoCount   int       `json:"photo_count"`
	HasSignature bool      `json:"has_signature"`
	Location     *GeoPoint `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	OnTime       bool      `json:"on_time"`
}

// ExceptionKind classifies a delivery problem.
type ExceptionKind string

const (
	ExceptionDamaged      ExceptionKind = "damaged"
	ExceptionRefused      ExceptionKind = "refused"
	ExceptionAccessDenied ExceptionKind = "access_denied"
	ExceptionShortage     ExceptionKind = "shortage"
	ExceptionDelayed      ExceptionKind = "delayed"
	ExceptionOther        ExceptionKind = "other"
)

// Valid reports whether k is a known kind.
func (k ExceptionKind) Valid() bool {
	switch k {
	case ExceptionDamaged, ExceptionRefused, ExceptionAccessDenied, ExceptionShortage, ExceptionDelayed, ExceptionOther:
		return true
	}
	return false
}

// TaskException reports a problem that blocks or degrades delivery.
type TaskException struct {
	TaskID      string        `json:"task_id"`
	RequestID   string        `json:"request_id"`
	Kind        ExceptionKind `json:"kind"`
	Description string        `json:"description"`
	ReportedAt  time.Time     `json:"reported_at"`
	ReportedBy  string        `json:"reported_by"`
}

func (ReadyForCollection) EventType() string { return TypeReadyForCollection }
func (RequestUpdated) EventType() string     { return TypeRequestUpdated }
func (RequestCancelled) EventType() string   { return TypeRequestCancelled }
func (RequestOnHold) EventType() string      { return TypeRequestOnHold }
func (TaskAccepted) EventType() string       { return TypeTaskAccepted }
func (TaskInTransit) EventType() string      { return TypeTaskInTransit }
func (TaskDelivered) EventType() string      { return TypeTaskDelivered }
func (TaskException) EventType() string      { return TypeTaskException }

func (ReadyForCollection) Topic() string { return TopicReadyForCollection }
func (RequestUpdated) Topic() string     { return TopicRequestUpdated }
func (RequestCancelled) Topic() string   { return TopicRequestCancelled }
func (RequestOnHold) Topic() string      { return TopicRequestOnHold }
func (TaskAccepted) Topic() string       { return TopicTaskAccepted }
func (TaskInTransit) Topic() string      { return TopicTaskInTransit }
func (TaskDelivered) Topic() string      { return TopicTaskDelivered }
func (TaskException) Topic() string      { return TopicTaskException }

func (ReadyForCollection) Source() string { return SourceMaterials }
func (RequestUpdated) Source() string     { return SourceMaterials }
func (RequestCancelled) Source() string   { return SourceMaterials }
func (RequestOnHold) Source() string      { return SourceMaterials }
func (TaskAccepted) Source() string       { return SourceLogistics }
func (TaskInTransit) Source() string      { return SourceLogistics }
func (TaskDelivered) Source() string      { return SourceLogistics }
func (TaskException) Source() string      { return SourceLogistics }

func (ReadyForCollection) isPayload() {}
func (RequestUpdated) isPayload()     {}
func (RequestCancelled) isPayload()   {}
func (RequestOnHold) isPayload()      {}
func (TaskAccepted) isPayload()       {}
func (TaskInTransit) isPayload()      {}
func (TaskDelivered) isPayload()      {}
func (TaskException) isPayload()      {}
