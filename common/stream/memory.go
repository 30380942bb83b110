package stream

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryLog keeps topics in process memory. IDs are monotonic ULIDs, so
// lexical order is publish order.
type MemoryLog struct {
	retention int

	mu      sync.RWMutex
	topics  map[string][]Message
	entropy *ulid.MonotonicEntropy
	lastMs  uint64
	now     func() time.Time
}

// NewMemoryLog creates an empty log that keeps the last retention entries
// per topic. A non-positive retention selects DefaultRetention.
func NewMemoryLog(retention int) *MemoryLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryLog{
		retention: retention,
		topics:    make(map[string][]Message),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		now:       time.Now,
	}
}

// Append implements Log.
func (l *MemoryLog) Append(ctx context.Context, topic string, payloads [][]byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ms := ulid.Timestamp(now)
	if ms < l.lastMs {
		ms = l.lastMs
	}
	l.lastMs = ms

	batch := make([]Message, len(payloads))
	ids := make([]string, len(payloads))
	for i, p := range payloads {
		id, err := ulid.New(ms, l.entropy)
		if err != nil {
			return nil, fmt.Errorf("failed to generate entry id: %w", err)
		}
		data := make([]byte, len(p))
		copy(data, p)
		batch[i] = Message{ID: id.String(), Topic: topic, Data: data, Timestamp: now}
		ids[i] = batch[i].ID
	}

	entries := append(l.topics[topic], batch...)
	if over := len(entries) - l.retention; over > 0 {
		trimmed := make([]Message, l.retention)
		copy(trimmed, entries[over:])
		entries = trimmed
	}
	l.topics[topic] = entries
	return ids, nil
}

// Range implements Log.
func (l *MemoryLog) Range(ctx context.Context, topic, afterID string, count int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	entries := l.topics[topic]
	l.mu.RUnlock()

	// entries is never mutated in place, so the snapshot is safe to read unlocked.
	start := 0
	if afterID != "" {
		start = sort.Search(len(entries), func(i int) bool { return entries[i].ID > afterID })
	}
	end := len(entries)
	if count > 0 && start+count < end {
		end = start + count
	}
	out := make([]Message, end-start)
	copy(out, entries[start:end])
	return out, nil
}

// Info implements Log.
func (l *MemoryLog) Info(ctx context.Context, topic string) (TopicInfo, error) {
	if err := ctx.Err(); err != nil {
		return TopicInfo{}, err
	}

	l.mu.RLock()
	entries := l.topics[topic]
	l.mu.RUnlock()

	info := TopicInfo{Topic: topic, Length: int64(len(entries))}
	if len(entries) > 0 {
		first, last := entries[0], entries[len(entries)-1]
		info.First, info.Last = &first, &last
		info.LastID = last.ID
	}
	return info, nil
}

// Topics implements Log.
func (l *MemoryLog) Topics(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.topics))
	for name, entries := range l.topics {
		if len(entries) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// MemoryCursors keeps cursors in process memory.
type MemoryCursors struct {
	mu      sync.RWMutex
	cursors map[string]string
}

// NewMemoryCursors creates an empty cursor store.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{cursors: make(map[string]string)}
}

func cursorKey(topic, group, consumer string) string {
	return topic + "\x00" + group + "\x00" + consumer
}

// Load implements CursorStore.
func (c *MemoryCursors) Load(_ context.Context, topic, group, consumer string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursors[cursorKey(topic, group, consumer)], nil
}

// Commit implements CursorStore.
func (c *MemoryCursors) Commit(_ context.Context, topic, group, consumer, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[cursorKey(topic, group, consumer)] = id
	return nil
}

// Reset implements CursorStore.
func (c *MemoryCursors) Reset(_ context.Context, topic, group, consumer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, cursorKey(topic, group, consumer))
	return nil
}
