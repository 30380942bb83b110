package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

// Log implements stream.Log.
type Log struct {
	js        jetstream.JetStream
	conn      *nats.Conn
	retention int64

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

// NewLog creates a Log. conn may be nil; it is only used by Ping.
func NewLog(js jetstream.JetStream, conn *nats.Conn, retention int) *Log {
	if retention <= 0 {
		retention = stream.DefaultRetention
	}
	return &Log{
		js:        js,
		conn:      conn,
		retention: int64(retention),
		streams:   make(map[string]jetstream.Stream),
	}
}

// StreamName maps a topic to a valid JetStream stream name.
func StreamName(topic string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(topic) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Subject maps a topic to the subject its stream captures.
func Subject(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (l *Log) ensure(ctx context.Context, topic string) (jetstream.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.streams[topic]; ok {
		return s, nil
	}
	s, err := l.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName(topic),
		Description: topic,
		Subjects:    []string{Subject(topic)},
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     l.retention,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream for %s: %w", topic, err)
	}
	l.streams[topic] = s
	return s, nil
}

// lookup returns the stream for topic, or nil when it does not exist yet.
func (l *Log) lookup(ctx context.Context, topic string) (jetstream.Stream, error) {
	l.mu.Lock()
	s, ok := l.streams[topic]
	l.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := l.js.Stream(ctx, StreamName(topic))
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream for %s: %w", topic, err)
	}
	return s, nil
}

// Append publishes payloads one by one. JetStream has no multi-message
// transaction, so a failure part-way returns an error after earlier
// payloads were stored.
func (l *Log) Append(ctx context.Context, topic string, payloads [][]byte) ([]string, error) {
	if _, err := l.ensure(ctx, topic); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payloads))
	for i, p := range payloads {
		ack, err := l.js.Publish(ctx, Subject(topic), p)
		if err != nil {
			return nil, fmt.Errorf("publish %d/%d to %s: %w", i+1, len(payloads), topic, err)
		}
		ids = append(ids, FormatID(ack.Sequence))
	}
	return ids, nil
}

// Range implements stream.Log by fetching sequences directly.
func (l *Log) Range(ctx context.Context, topic, afterID string, count int) ([]stream.Message, error) {
	after, err := ParseID(afterID)
	if err != nil {
		return nil, err
	}
	s, err := l.lookup(ctx, topic)
	if err != nil || s == nil {
		return nil, err
	}

	info, err := s.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info %s: %w", topic, err)
	}
	state := info.State
	if state.Msgs == 0 {
		return nil, nil
	}

	seq := max(after+1, state.FirstSeq)
	var msgs []stream.Message
	for ; seq <= state.LastSeq; seq++ {
		if count > 0 && len(msgs) >= count {
			break
		}
		raw, err := s.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s seq %d: %w", topic, seq, err)
		}
		msgs = append(msgs, toMessage(topic, raw))
	}
	return msgs, nil
}

// Info implements stream.Log.
func (l *Log) Info(ctx context.Context, topic string) (stream.TopicInfo, error) {
	out := stream.TopicInfo{Topic: topic}
	s, err := l.lookup(ctx, topic)
	if err != nil || s == nil {
		return out, err
	}

	info, err := s.Info(ctx)
	if err != nil {
		return out, fmt.Errorf("stream info %s: %w", topic, err)
	}
	out.Length = int64(info.State.Msgs)
	if info.State.Msgs == 0 {
		return out, nil
	}

	if first, err := s.GetMsg(ctx, info.State.FirstSeq); err == nil {
		m := toMessage(topic, first)
		out.First = &m
	}
	if last, err := s.GetMsg(ctx, info.State.LastSeq); err == nil {
		m := toMessage(topic, last)
		out.Last = &m
	}
	out.LastID = FormatID(info.State.LastSeq)
	return out, nil
}

// Topics implements stream.Log. Topic names are kept in stream descriptions.
func (l *Log) Topics(ctx context.Context) ([]string, error) {
	lister := l.js.ListStreams(ctx)
	var topics []string
	for info := range lister.Info() {
		if info.Config.Description != "" && info.State.Msgs > 0 {
			topics = append(topics, info.Config.Description)
		}
	}
	if err := lister.Err(); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	sort.Strings(topics)
	return topics, nil
}

// Ping implements stream.Pinger.
func (l *Log) Ping(_ context.Context) error {
	if l.conn == nil {
		return nil
	}
	if !l.conn.IsConnected() {
		return errors.New("not connected to NATS")
	}
	return l.conn.FlushTimeout(DefaultConfig().Timeout)
}

func toMessage(topic string, raw *jetstream.RawStreamMsg) stream.Message {
	return stream.Message{
		ID:        FormatID(raw.Sequence),
		Topic:     topic,
		Data:      raw.Data,
		Timestamp: raw.Time,
	}
}

// FormatID renders a sequence number as an entry ID.
func FormatID(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// ParseID parses an entry ID. The empty ID is sequence zero.
func ParseID(id string) (uint64, error) {
	if id == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid jetstream entry id %q: %w", id, err)
	}
	return seq, nil
}
