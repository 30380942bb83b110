package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
)

// Options tunes the delivery loop.
type Options struct {
	// PollInterval is the fixed tick between reads when no publish wakes the loop.
	PollInterval time.Duration

	// BatchSize is the maximum number of entries read per tick. A full batch
	// is followed immediately by another read.
	BatchSize int

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Pinger is implemented by logs backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Bus wires a Log and a CursorStore into publish and subscribe operations.
type Bus struct {
	log     Log
	cursors CursorStore
	logger  *logging.Logger
	opts    Options

	mu     sync.Mutex
	wake   map[string]chan struct{}
	subs   map[*subscription]context.CancelFunc
	closed bool
}

// New creates a Bus over the given storage.
func New(log Log, cursors CursorStore, logger *logging.Logger, opts Options) *Bus {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		log:     log,
		cursors: cursors,
		logger:  logger,
		opts:    opts,
		wake:    make(map[string]chan struct{}),
		subs:    make(map[*subscription]context.CancelFunc),
	}
}

// NewMemory creates a Bus backed entirely by process memory.
func NewMemory(retention int, logger *logging.Logger, opts Options) *Bus {
	return New(NewMemoryLog(retention), NewMemoryCursors(), logger, opts)
}

// Publish appends one entry to topic and returns its ID.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	ids, err := b.PublishBatch(ctx, topic, [][]byte{payload})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PublishBatch appends entries in order. On error the caller must assume
// none of them were stored.
func (b *Bus) PublishBatch(ctx context.Context, topic string, payloads [][]byte) ([]string, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, nil
	}
	if b.isClosed() {
		return nil, ErrClosed
	}

	ids, err := b.log.Append(ctx, topic, payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	b.opts.Metrics.ObservePublished(topic, len(ids))
	b.notify(topic)
	return ids, nil
}

// Subscribe starts a delivery loop for (topic, group, consumer). The loop
// resumes after the committed cursor, or from the start of the retained log.
func (b *Bus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) (CancelFunc, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if group == "" || consumer == "" {
		return nil, ErrInvalidConsumer
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		bus:      b,
		topic:    topic,
		group:    group,
		consumer: consumer,
		handler:  handler,
		done:     make(chan struct{}),
		logger:   b.logger.With(logging.Topic(topic), logging.Group(group), logging.Consumer(consumer)),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	b.subs[s] = cancel
	b.mu.Unlock()

	go s.run(subCtx)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-s.done
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		})
	}, nil
}

// Read returns up to count entries after afterID without touching any cursor.
func (b *Bus) Read(ctx context.Context, topic string, count int, afterID string) ([]Message, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = b.opts.BatchSize
	}
	msgs, err := b.log.Range(ctx, topic, afterID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", topic, err)
	}
	return msgs, nil
}

// TopicInfo reports the length and boundary entries of topic.
func (b *Bus) TopicInfo(ctx context.Context, topic string) (TopicInfo, error) {
	if err := ValidateTopic(topic); err != nil {
		return TopicInfo{}, err
	}
	info, err := b.log.Info(ctx, topic)
	if err != nil {
		return TopicInfo{}, fmt.Errorf("failed to describe %s: %w", topic, err)
	}
	return info, nil
}

// Topics lists topics that hold entries.
func (b *Bus) Topics(ctx context.Context) ([]string, error) {
	return b.log.Topics(ctx)
}

// Cursor returns the committed ID for (topic, group, consumer).
func (b *Bus) Cursor(ctx context.Context, topic, group, consumer string) (string, error) {
	return b.cursors.Load(ctx, topic, group, consumer)
}

// ResetCursor forgets the committed position so the consumer replays the
// retained log from the start.
func (b *Bus) ResetCursor(ctx context.Context, topic, group, consumer string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if group == "" || consumer == "" {
		return ErrInvalidConsumer
	}
	if err := b.cursors.Reset(ctx, topic, group, consumer); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	b.notify(topic)
	return nil
}

// Ping checks the storage backend when it supports it.
func (b *Bus) Ping(ctx context.Context) error {
	if p, ok := b.log.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops every subscription, waiting for in-flight handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s, cancel := range b.subs {
		cancel()
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// waiter returns a channel closed on the next publish to topic.
func (b *Bus) waiter(topic string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.wake[topic]
	if !ok {
		ch = make(chan struct{})
		b.wake[topic] = ch
	}
	return ch
}

func (b *Bus) notify(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.wake[topic]; ok {
		close(ch)
		delete(b.wake, topic)
	}
}
