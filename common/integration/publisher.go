package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
)

// Appender is the part of the stream bus a Publisher needs.
type Appender interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// Publisher stamps payloads into envelopes and appends them to their topic.
type Publisher struct {
	bus    Appender
	logger *logging.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(bus Appender, logger *logging.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger, now: time.Now}
}

// Emit publishes p on its topic. Publish errors are returned unchanged in
// meaning; the caller decides whether to retry.
func (p *Publisher) Emit(ctx context.Context, payload events.Payload) (events.Envelope, error) {
	env, raw, err := events.Encode(payload, p.now())
	if err != nil {
		return events.Envelope{}, err
	}
	id, err := p.bus.Publish(ctx, payload.Topic(), raw)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("failed to publish %s: %w", env.EventType, err)
	}
	p.logger.InfoContext(ctx, "event published",
		logging.Topic(payload.Topic()), logging.EventType(env.EventType), logging.EventID(env.EventID), logging.MessageID(id))
	return env, nil
}
