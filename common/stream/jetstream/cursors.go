package jetstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Cursors implements stream.CursorStore on a JetStream key-value bucket.
type Cursors struct {
	kv jetstream.KeyValue
}

// NewCursors opens (creating if needed) the cursor bucket.
func NewCursors(ctx context.Context, js jetstream.JetStream, bucket string) (*Cursors, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "stream bus consumer cursors",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor bucket %s: %w", bucket, err)
	}
	return &Cursors{kv: kv}, nil
}

// CursorKey encodes (topic, group, consumer) into the key alphabet.
func CursorKey(topic, group, consumer string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(topic + "\x00" + group + "\x00" + consumer))
}

// Load implements stream.CursorStore.
func (c *Cursors) Load(ctx context.Context, topic, group, consumer string) (string, error) {
	entry, err := c.kv.Get(ctx, CursorKey(topic, group, consumer))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kv get cursor: %w", err)
	}
	return string(entry.Value()), nil
}

// Commit implements stream.CursorStore.
func (c *Cursors) Commit(ctx context.Context, topic, group, consumer, id string) error {
	if _, err := c.kv.Put(ctx, CursorKey(topic, group, consumer), []byte(id)); err != nil {
		return fmt.Errorf("kv put cursor: %w", err)
	}
	return nil
}

// Reset implements stream.CursorStore.
func (c *Cursors) Reset(ctx context.Context, topic, group, consumer string) error {
	err := c.kv.Delete(ctx, CursorKey(topic, group, consumer))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete cursor: %w", err)
	}
	return nil
}
