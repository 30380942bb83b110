// Package stream provides a log-structured publish/subscribe bus: one
// append-only, retention-trimmed log per topic and a committed cursor per
// (topic, group, consumer). Delivery is at-least-once and ordered per topic.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Defaults applied by New when Options fields are zero.
const (
	DefaultRetention    = 10000
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
)

var (
	// ErrInvalidTopic is returned for empty topics or topics containing whitespace.
	ErrInvalidTopic = errors.New("invalid topic name")
	// ErrInvalidConsumer is returned for an empty group or consumer name.
	ErrInvalidConsumer = errors.New("group and consumer names are required")
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("stream bus closed")
)

// Message is one entry of a topic log.
type Message struct {
	// ID orders entries within a topic. Its format is backend specific.
	ID string `json:"id"`

	// Topic the entry was read from.
	Topic string `json:"topic"`

	// Data is the raw entry payload.
	Data []byte `json:"data"`

	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`
}

// TopicInfo describes the retained part of a topic.
type TopicInfo struct {
	Topic  string   `json:"topic"`
	Length int64    `json:"length"`
	LastID string   `json:"last_id,omitempty"`
	First  *Message `json:"first_entry,omitempty"`
	Last   *Message `json:"last_entry,omitempty"`
}

// Handler processes one message. A non-nil error leaves the cursor where it
// is and the same message is delivered again on the next tick.
type Handler func(ctx context.Context, msg Message) error

// CancelFunc stops a subscription and waits for its in-flight handler.
type CancelFunc func()

// Log is the storage side of the bus: per-topic ordered, trimmed logs.
type Log interface {
	// Append stores payloads in order and returns their IDs. It either
	// stores all of them or returns an error.
	Append(ctx context.Context, topic string, payloads [][]byte) ([]string, error)

	// Range returns up to count entries strictly after afterID, oldest first.
	// An empty afterID reads from the start of the retained log.
	Range(ctx context.Context, topic, afterID string, count int) ([]Message, error)

	// Info reports length and boundary entries of a topic.
	Info(ctx context.Context, topic string) (TopicInfo, error)

	// Topics lists topics that currently hold entries.
	Topics(ctx context.Context) ([]string, error)
}

// CursorStore persists the last committed ID per (topic, group, consumer).
type CursorStore interface {
	// Load returns the committed ID, or "" when nothing was committed.
	Load(ctx context.Context, topic, group, consumer string) (string, error)
	Commit(ctx context.Context, topic, group, consumer, id string) error
	Reset(ctx context.Context, topic, group, consumer string) error
}

// ValidateTopic checks a topic name.
func ValidateTopic(topic string) error {
	if topic == "" || strings.ContainsAny(topic, " \t\r\n") {
		return ErrInvalidTopic
	}
	return nil
}
