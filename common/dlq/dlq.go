// Package dlq records poison events on the dead-letter topic so they stop
// blocking their consumer but stay available for inspection and replay.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

// Reasons recorded with each failed event.
const (
	ReasonMalformed          = "malformed"
	ReasonUnknownType        = "unknown_event_type"
	ReasonUnsupportedVersion = "unsupported_version"
	ReasonWrongTopic         = "wrong_topic"
	ReasonValidation         = "validation"
	ReasonOther              = "other"
)

// ErrEntryNotFound is returned by Replay for IDs no longer retained.
var ErrEntryNotFound = errors.New("dead-letter entry not found")

// FailedEvent captures why an entry could not be handled.
type FailedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Group     string    `json:"group"`
	Consumer  string    `json:"consumer"`
	MessageID string    `json:"message_id"`
	Data      []byte    `json:"data"`
	Error     string    `json:"error"`
	Reason    string    `json:"reason"`
}

// Entry is a FailedEvent with its position on the dead-letter topic.
type Entry struct {
	ID    string      `json:"id"`
	Event FailedEvent `json:"event"`
}

// Stats summarises the retained dead letters.
type Stats struct {
	Length   int64          `json:"length"`
	ByReason map[string]int `json:"by_reason"`
	ByTopic  map[string]int `json:"by_topic"`
	Oldest   *time.Time     `json:"oldest,omitempty"`
	Newest   *time.Time     `json:"newest,omitempty"`
}

// Bus is the part of the stream bus the queue needs.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
	Read(ctx context.Context, topic string, count int, afterID string) ([]stream.Message, error)
	TopicInfo(ctx context.Context, topic string) (stream.TopicInfo, error)
}

// Queue writes to and reads from events.TopicDeadLetter.
type Queue struct {
	bus     Bus
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewQueue creates a Queue. m may be nil.
func NewQueue(bus Bus, logger *logging.Logger, m *metrics.Metrics) *Queue {
	return &Queue{bus: bus, logger: logger, metrics: m, now: time.Now}
}

// ReasonFor classifies a decode error.
func ReasonFor(err error) string {
	var verr *events.ValidationError
	switch {
	case errors.Is(err, events.ErrUnknownEventType):
		return ReasonUnknownType
	case errors.Is(err, events.ErrUnsupportedVersion):
		return ReasonUnsupportedVersion
	case errors.Is(err, events.ErrWrongTopic):
		return ReasonWrongTopic
	case errors.As(err, &verr):
		return ReasonValidation
	case errors.Is(err, events.ErrMalformed):
		return ReasonMalformed
	default:
		return ReasonOther
	}
}

// Write records msg as failed.
func (q *Queue) Write(ctx context.Context, msg stream.Message, group, consumer string, cause error) error {
	if q == nil {
		return nil
	}

	reason := ReasonFor(cause)
	failed := FailedEvent{
		Timestamp: q.now().UTC(),
		Topic:     msg.Topic,
		Group:     group,
		Consumer:  consumer,
		MessageID: msg.ID,
		Data:      msg.Data,
		Error:     cause.Error(),
		Reason:    reason,
	}
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	id, err := q.bus.Publish(ctx, events.TopicDeadLetter, data)
	if err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}

	q.metrics.ObserveDeadLetter(msg.Topic, reason)
	q.logger.WarnContext(ctx, "event dead-lettered",
		logging.Topic(msg.Topic),
		logging.Group(group),
		logging.MessageID(msg.ID),
		slog.String("reason", reason),
		logging.Error(cause),
		"dlq_id", id,
	)
	return nil
}

// List returns up to count entries after afterID.
func (q *Queue) List(ctx context.Context, count int, afterID string) ([]Entry, error) {
	msgs, err := q.bus.Read(ctx, events.TopicDeadLetter, count, afterID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		var fe FailedEvent
		if err := json.Unmarshal(m.Data, &fe); err != nil {
			q.logger.Warn("skipping unreadable dead letter", logging.MessageID(m.ID), logging.Error(err))
			continue
		}
		entries = append(entries, Entry{ID: m.ID, Event: fe})
	}
	return entries, nil
}

// Stats scans the retained dead letters.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	info, err := q.bus.TopicInfo(ctx, events.TopicDeadLetter)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Length: info.Length, ByReason: map[string]int{}, ByTopic: map[string]int{}}

	err = q.scan(ctx, func(e Entry) bool {
		st.ByReason[e.Event.Reason]++
		st.ByTopic[e.Event.Topic]++
		ts := e.Event.Timestamp
		if st.Oldest == nil || ts.Before(*st.Oldest) {
			st.Oldest = &ts
		}
		if st.Newest == nil || ts.After(*st.Newest) {
			st.Newest = &ts
		}
		return true
	})
	return st, err
}

// Replay republishes the original bytes of entry id to their topic and
// returns the new entry ID. The dead letter itself is left in place.
func (q *Queue) Replay(ctx context.Context, id string) (string, error) {
	var found *Entry
	err := q.scan(ctx, func(e Entry) bool {
		if e.ID == id {
			found = &e
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", ErrEntryNotFound
	}

	newID, err := q.bus.Publish(ctx, found.Event.Topic, found.Event.Data)
	if err != nil {
		return "", fmt.Errorf("replay %s: %w", id, err)
	}
	q.logger.InfoContext(ctx, "dead letter replayed",
		logging.Topic(found.Event.Topic),
		logging.MessageID(newID),
		"dlq_id", id,
	)
	return newID, nil
}

func (q *Queue) scan(ctx context.Context, fn func(Entry) bool) error {
	after := ""
	for {
		msgs, err := q.bus.Read(ctx, events.TopicDeadLetter, stream.DefaultBatchSize, after)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, m := range msgs {
			var fe FailedEvent
			if err := json.Unmarshal(m.Data, &fe); err != nil {
				continue
			}
			if !fn(Entry{ID: m.ID, Event: fe}) {
				return nil
			}
		}
		after = msgs[len(msgs)-1].ID
	}
}
