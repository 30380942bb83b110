// Package integration glues typed event handlers onto stream subscriptions:
// it decodes each entry, dead-letters poison events and dispatches the rest.
package integration

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/telhawk-systems/logistics-bridge/common/dlq"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/middleware"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

// Event is a decoded stream entry.
type Event struct {
	Envelope events.Envelope
	Payload  events.Payload
	Message  stream.Message
}

// Handler processes one decoded event. Returning an error for which
// events.IsPoison is true dead-letters the entry; any other error leaves it
// for redelivery.
type Handler func(ctx context.Context, ev Event) error

// On adapts a handler for one payload type.
func On[T events.Payload](fn func(ctx context.Context, env events.Envelope, p T) error) Handler {
	return func(ctx context.Context, ev Event) error {
		p, ok := ev.Payload.(T)
		if !ok {
			return fmt.Errorf("%w: unexpected payload %T", events.ErrWrongTopic, ev.Payload)
		}
		return fn(ctx, ev.Envelope, p)
	}
}

// Adapt turns h into a stream.Handler for (topic, group, consumer).
func Adapt(topic, group, consumer string, q *dlq.Queue, logger *logging.Logger, h Handler) stream.Handler {
	return func(ctx context.Context, msg stream.Message) error {
		env, p, err := events.DecodeFrom(topic, msg.Data)
		if err == nil {
			ctx = middleware.WithRequestID(ctx, env.EventID)
			ctx = logging.ContextWith(ctx, logging.Topic(topic), logging.Group(group))
			logger.DebugContext(ctx, "handling event", logging.EventType(env.EventType), logging.MessageID(msg.ID))
			err = h(ctx, Event{Envelope: env, Payload: p, Message: msg})
			if err == nil {
				return nil
			}
		}

		if !events.IsPoison(err) {
			return err
		}
		// A failed dead-letter write is retried with the entry itself.
		return q.Write(ctx, msg, group, consumer, err)
	}
}

// Bus is the part of the stream bus a Subscriber needs.
type Bus interface {
	Subscribe(ctx context.Context, topic, group, consumer string, handler stream.Handler) (stream.CancelFunc, error)
}

type route struct {
	topic   string
	group   string
	handler Handler
}

// Subscriber owns a set of subscriptions that start and stop together.
type Subscriber struct {
	bus      Bus
	dlq      *dlq.Queue
	logger   *logging.Logger
	consumer string

	mu      sync.Mutex
	routes  []route
	cancels []stream.CancelFunc
}

// NewSubscriber creates a Subscriber. An empty consumer name defaults to
// the host name.
func NewSubscriber(bus Bus, q *dlq.Queue, logger *logging.Logger, consumer string) *Subscriber {
	if consumer == "" {
		consumer = DefaultConsumerName()
	}
	return &Subscriber{bus: bus, dlq: q, logger: logger, consumer: consumer}
}

// DefaultConsumerName identifies this process within a consumer group.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "default"
	}
	return host
}

// Consumer returns the consumer name used for every route.
func (s *Subscriber) Consumer() string { return s.consumer }

// Handle registers h for topic within group. Call before Start.
func (s *Subscriber) Handle(topic, group string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{topic: topic, group: group, handler: h})
}

// Start subscribes every registered route.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.routes {
		cancel, err := s.bus.Subscribe(ctx, r.topic, r.group, s.consumer,
			Adapt(r.topic, r.group, s.consumer, s.dlq, s.logger, r.handler))
		if err != nil {
			s.stopLocked()
			return fmt.Errorf("failed to subscribe %s/%s: %w", r.topic, r.group, err)
		}
		s.cancels = append(s.cancels, cancel)
		s.logger.Info("subscribed", logging.Topic(r.topic), logging.Group(r.group), logging.Consumer(s.consumer))
	}
	return nil
}

// Stop cancels every subscription, waiting for in-flight handlers.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Subscriber) stopLocked() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

// Run starts the subscriptions and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	s.logger.Info("subscriber stopped", logging.Consumer(s.consumer))
	return nil
}
