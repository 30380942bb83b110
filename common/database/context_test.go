package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutHelpers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context) (context.Context, context.CancelFunc)
		want time.Duration
	}{
		{"query", QueryContext, DefaultQueryTimeout},
		{"write", WriteContext, DefaultWriteTimeout},
		{"bulk", BulkContext, DefaultBulkTimeout},
		{"remote default", func(ctx context.Context) (context.Context, context.CancelFunc) {
			return RemoteContext(ctx, 0)
		}, DefaultRemoteTimeout},
		{"remote explicit", func(ctx context.Context) (context.Context, context.CancelFunc) {
			return RemoteContext(ctx, 2*time.Second)
		}, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			ctx, cancel := tt.fn(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, start.Add(tt.want), deadline, time.Second)
		})
	}
}
