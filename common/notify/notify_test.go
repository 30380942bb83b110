package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
)

func TestWebhookChannelSend(t *testing.T) {
	var mu sync.Mutex
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "delivered:req-1", r.Header.Get("X-Notification-Key"))
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	err := ch.Send(context.Background(), Notification{Kind: KindDelivered, EntityID: "req-1", Subject: "Delivered"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, KindDelivered, got.Kind)
	assert.Equal(t, "req-1", got.EntityID)
}

func TestWebhookChannelNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL, time.Second).Send(context.Background(), Notification{})
	assert.ErrorContains(t, err, "502")
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelInfo, "json")
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(logger, m, time.Second, NewLogChannel(logger), NewWebhookChannel(srv.URL, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, Notification{Kind: KindException, EntityID: "req-9", Subject: "Damaged goods"})
	cancel()
	d.Wait()

	assert.Contains(t, buf.String(), `"msg":"notification"`)
	assert.Contains(t, buf.String(), `"msg":"notification failed"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("log", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("webhook", "error")))
}
