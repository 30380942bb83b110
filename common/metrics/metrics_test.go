package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePublished("t", 1)
		m.ObserveHandled("t", "g", 0.1, nil)
		m.ObserveDeadLetter("t", "malformed")
		m.ObserveSync(1, 1, 0.2)
		m.SetTaskGauges(1, 0, 0)
		m.ObserveNotification("log", nil)
		m.ObserveArchived(nil)
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePublished("events:logistics:task_accepted", 3)
	m.ObserveHandled("events:logistics:task_accepted", "g", 0.01, nil)
	m.ObserveHandled("events:logistics:task_accepted", "g", 0.01, errors.New("boom"))
	m.ObserveSync(2, 1, 0.5)
	m.SetTaskGauges(5, 2, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Published.WithLabelValues("events:logistics:task_accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Delivered.WithLabelValues("events:logistics:task_accepted", "g")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerErrors.WithLabelValues("events:logistics:task_accepted", "g")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncRecords.WithLabelValues("synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRecords.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksAtRisk))
}
