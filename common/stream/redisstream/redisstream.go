// Package redisstream implements the stream bus storage on Redis Streams.
// Each topic is one stream key trimmed with MAXLEN on every append; cursors
// live in one hash per topic.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

const (
	dataField = "data"
	topicsKey = "stream:topics"
)

// Log implements stream.Log.
type Log struct {
	client    redis.UniversalClient
	retention int64
}

// NewLog creates a Log trimming each topic to retention entries.
func NewLog(client redis.UniversalClient, retention int) *Log {
	if retention <= 0 {
		retention = stream.DefaultRetention
	}
	return &Log{client: client, retention: int64(retention)}
}

// Append adds payloads inside one MULTI/EXEC so a batch lands together.
func (l *Log) Append(ctx context.Context, topic string, payloads [][]byte) ([]string, error) {
	cmds, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payloads {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: topic,
				MaxLen: l.retention,
				Values: map[string]any{dataField: p},
			})
		}
		pipe.SAdd(ctx, topicsKey, topic)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("xadd %s: %w", topic, err)
	}

	ids := make([]string, 0, len(payloads))
	for _, cmd := range cmds[:len(payloads)] {
		id, err := cmd.(*redis.StringCmd).Result()
		if err != nil {
			return nil, fmt.Errorf("xadd %s: %w", topic, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Range implements stream.Log. The start bound is inclusive, so one extra
// entry is fetched and the cursor entry itself is skipped.
func (l *Log) Range(ctx context.Context, topic, afterID string, count int) ([]stream.Message, error) {
	start := "-"
	fetch := int64(count)
	if afterID != "" {
		start = afterID
		if count > 0 {
			fetch++
		}
	}

	var entries []redis.XMessage
	var err error
	if fetch > 0 {
		entries, err = l.client.XRangeN(ctx, topic, start, "+", fetch).Result()
	} else {
		entries, err = l.client.XRange(ctx, topic, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", topic, err)
	}

	msgs := make([]stream.Message, 0, len(entries))
	for _, e := range entries {
		if e.ID == afterID {
			continue
		}
		msgs = append(msgs, toMessage(topic, e))
	}
	if count > 0 && len(msgs) > count {
		msgs = msgs[:count]
	}
	return msgs, nil
}

// Info implements stream.Log.
func (l *Log) Info(ctx context.Context, topic string) (stream.TopicInfo, error) {
	info := stream.TopicInfo{Topic: topic}

	n, err := l.client.XLen(ctx, topic).Result()
	if err != nil {
		return info, fmt.Errorf("xlen %s: %w", topic, err)
	}
	info.Length = n
	if n == 0 {
		return info, nil
	}

	first, err := l.client.XRangeN(ctx, topic, "-", "+", 1).Result()
	if err != nil {
		return info, fmt.Errorf("xrange %s: %w", topic, err)
	}
	last, err := l.client.XRevRangeN(ctx, topic, "+", "-", 1).Result()
	if err != nil {
		return info, fmt.Errorf("xrevrange %s: %w", topic, err)
	}
	if len(first) > 0 {
		m := toMessage(topic, first[0])
		info.First = &m
	}
	if len(last) > 0 {
		m := toMessage(topic, last[0])
		info.Last = &m
		info.LastID = m.ID
	}
	return info, nil
}

// Topics implements stream.Log.
func (l *Log) Topics(ctx context.Context) ([]string, error) {
	names, err := l.client.SMembers(ctx, topicsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", topicsKey, err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping implements stream.Pinger.
func (l *Log) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func toMessage(topic string, e redis.XMessage) stream.Message {
	msg := stream.Message{ID: e.ID, Topic: topic, Timestamp: idTime(e.ID)}
	switch v := e.Values[dataField].(type) {
	case string:
		msg.Data = []byte(v)
	case []byte:
		msg.Data = v
	}
	return msg
}

// idTime extracts the millisecond part of a Redis stream ID.
func idTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

// Cursors implements stream.CursorStore with one hash per topic.
type Cursors struct {
	client redis.UniversalClient
}

// NewCursors creates a Cursors store.
func NewCursors(client redis.UniversalClient) *Cursors {
	return &Cursors{client: client}
}

func cursorsKey(topic string) string { return "cursors:" + topic }

func cursorField(group, consumer string) string { return group + ":" + consumer }

// Load implements stream.CursorStore.
func (c *Cursors) Load(ctx context.Context, topic, group, consumer string) (string, error) {
	id, err := c.client.HGet(ctx, cursorsKey(topic), cursorField(group, consumer)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("hget cursor: %w", err)
	}
	return id, nil
}

// Commit implements stream.CursorStore.
func (c *Cursors) Commit(ctx context.Context, topic, group, consumer, id string) error {
	if err := c.client.HSet(ctx, cursorsKey(topic), cursorField(group, consumer), id).Err(); err != nil {
		return fmt.Errorf("hset cursor: %w", err)
	}
	return nil
}

// Reset implements stream.CursorStore.
func (c *Cursors) Reset(ctx context.Context, topic, group, consumer string) error {
	if err := c.client.HDel(ctx, cursorsKey(topic), cursorField(group, consumer)).Err(); err != nil {
		return fmt.Errorf("hdel cursor: %w", err)
	}
	return nil
}
