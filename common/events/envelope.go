// Package events defines the wire envelope and the typed payloads exchanged
// between the materials and logistics applications.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope schema version stamped on every event.
const Version = "1.0"

var (
	// ErrMalformed means the bytes are not a decodable envelope or payload.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownEventType means no payload type is registered for event_type.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrUnsupportedVersion means the envelope version is not understood.
	ErrUnsupportedVersion = errors.New("unsupported event version")
	// ErrWrongTopic means the event type does not belong on the topic it was read from.
	ErrWrongTopic = errors.New("event type does not match topic")
)

// Envelope is the JSON document stored as each stream entry.
type Envelope struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

var registry = map[string]func() Payload{
	TypeReadyForCollection: func() Payload { return &ReadyForCollection{} },
	TypeRequestUpdated:     func() Payload { return &RequestUpdated{} },
	TypeRequestCancelled:   func() Payload { return &RequestCancelled{} },
	TypeRequestOnHold:      func() Payload { return &RequestOnHold{} },
	TypeTaskAccepted:       func() Payload { return &TaskAccepted{} },
	TypeTaskInTransit:      func() Payload { return &TaskInTransit{} },
	TypeTaskDelivered:      func() Payload { return &TaskDelivered{} },
	TypeTaskException:      func() Payload { return &TaskException{} },
}

// Wrap validates p and stamps a new envelope around it.
func Wrap(p Payload, at time.Time) (Envelope, error) {
	if err := p.Validate(); err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", p.EventType(), err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to generate event id: %w", err)
	}
	return Envelope{
		EventType: p.EventType(),
		EventID:   id.String(),
		Timestamp: at.UTC(),
		Source:    p.Source(),
		Version:   Version,
		Data:      data,
	}, nil
}

// Encode wraps p and returns the envelope together with its wire bytes.
func Encode(p Payload, at time.Time) (Envelope, []byte, error) {
	env, err := Wrap(p, at)
	if err != nil {
		return Envelope{}, nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return env, raw, nil
}

// Decode parses wire bytes into an envelope and its validated typed payload.
// The returned payload is a value type such as TaskAccepted.
func Decode(raw []byte) (Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.EventType == "" || len(env.Data) == 0 {
		return env, nil, fmt.Errorf("%w: event_type and data are required", ErrMalformed)
	}
	if env.Version != Version {
		return env, nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.Version)
	}

	newPayload, ok := registry[env.EventType]
	if !ok {
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
	ptr := newPayload()
	if err := json.Unmarshal(env.Data, ptr); err != nil {
		return env, nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, env.EventType, err)
	}
	p := deref(ptr)
	if err := p.Validate(); err != nil {
		return env, nil, err
	}
	return env, p, nil
}

// DecodeFrom is Decode plus a check that the event belongs on topic.
func DecodeFrom(topic string, raw []byte) (Envelope, Payload, error) {
	env, p, err := Decode(raw)
	if err != nil {
		return env, nil, err
	}
	if p.Topic() != topic {
		return env, nil, fmt.Errorf("%w: %s on %s", ErrWrongTopic, env.EventType, topic)
	}
	return env, p, nil
}

// IsPoison reports whether err means the event can never be handled and
// should be dead-lettered rather than retried.
func IsPoison(err error) bool {
	var verr *ValidationError
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrWrongTopic) ||
		errors.As(err, &verr)
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ReadyForCollection:
		return *v
	case *RequestUpdated:
		return *v
	case *RequestCancelled:
		return *v
	case *RequestOnHold:
		return *v
	case *TaskAccepted:
		return *v
	case *TaskInTransit:
		return *v
	case *TaskDelivered:
		return *v
	case *TaskException:
		return *v
	}
	return p
}
