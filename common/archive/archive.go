// Package archive copies every stream entry, including dead letters, into
// an OpenSearch index for cross-application search.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/database"
	"github.com/telhawk-systems/logistics-bridge/common/dlq"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

// Group is the consumer group the archiver reads with.
const Group = "archive"

// Document is one archived stream entry.
type Document struct {
	Topic     string          `json:"topic"`
	MessageID string          `json:"message_id"`
	EventID   string          `json:"event_id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Source    string          `json:"source,omitempty"`
	Version   string          `json:"version,omitempty"`
	Timestamp time.Time       `json:"@timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	// Raw holds the entry text when it is not a valid envelope.
	Raw        string           `json:"raw,omitempty"`
	DeadLetter *dlq.FailedEvent `json:"dead_letter,omitempty"`
}

// ID is the document id. Event ids keep redelivered entries from being
// indexed twice.
func (d Document) ID() string {
	if d.EventID != "" {
		return d.EventID
	}
	return d.Topic + "/" + d.MessageID
}

// BuildDocument converts a stream entry into a Document. It never fails:
// entries that are not envelopes are kept verbatim in Raw.
func BuildDocument(msg stream.Message) Document {
	doc := Document{Topic: msg.Topic, MessageID: msg.ID, Timestamp: msg.Timestamp.UTC()}

	if msg.Topic == events.TopicDeadLetter {
		var fe dlq.FailedEvent
		if err := json.Unmarshal(msg.Data, &fe); err == nil {
			doc.DeadLetter = &fe
			return doc
		}
		doc.Raw = string(msg.Data)
		return doc
	}

	var env events.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.EventType == "" {
		doc.Raw = string(msg.Data)
		return doc
	}
	doc.EventID = env.EventID
	doc.EventType = env.EventType
	doc.Source = env.Source
	doc.Version = env.Version
	doc.Data = env.Data
	if !env.Timestamp.IsZero() {
		doc.Timestamp = env.Timestamp.UTC()
	}
	return doc
}

// IndexName returns the daily index a document belongs to.
func IndexName(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, ts.UTC().Format("2006.01.02"))
}

// Indexer stores one JSON document under an id.
type Indexer interface {
	Index(ctx context.Context, index, id string, body []byte) error
}

// Bus is the part of the stream bus the archiver subscribes through.
type Bus interface {
	Subscribe(ctx context.Context, topic, group, consumer string, handler stream.Handler) (stream.CancelFunc, error)
}

// Archiver indexes entries from a set of topics.
type Archiver struct {
	indexer Indexer
	prefix  string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewArchiver creates an Archiver writing to prefix-YYYY.MM.DD indices.
func NewArchiver(indexer Indexer, prefix string, logger *logging.Logger, m *metrics.Metrics) *Archiver {
	return &Archiver{indexer: indexer, prefix: prefix, logger: logger, metrics: m}
}

// Handle indexes one entry. Indexing failures are returned so the entry is
// retried on the next tick.
func (a *Archiver) Handle(ctx context.Context, msg stream.Message) error {
	doc := BuildDocument(msg)
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal archive document: %w", err)
	}

	ictx, cancel := database.BulkContext(ctx)
	defer cancel()
	err = a.indexer.Index(ictx, IndexName(a.prefix, doc.Timestamp), doc.ID(), body)
	a.metrics.ObserveArchived(err)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", msg.ID, err)
	}
	return nil
}

// Start subscribes the archiver to every topic and returns one function
// that cancels all subscriptions.
func (a *Archiver) Start(ctx context.Context, bus Bus, consumer string, topics []string) (stream.CancelFunc, error) {
	var cancels []stream.CancelFunc
	stopAll := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, topic := range topics {
		cancel, err := bus.Subscribe(ctx, topic, Group, consumer, a.Handle)
		if err != nil {
			stopAll()
			return nil, errors.Join(fmt.Errorf("failed to subscribe archive to %s", topic), err)
		}
		cancels = append(cancels, cancel)
	}
	a.logger.Info("archive started", logging.Group(Group), "topics", len(topics))
	return stopAll, nil
}
