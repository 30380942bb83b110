// Package metrics declares the Prometheus collectors shared by the bridge
// processes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector, registered against one registry.
type Metrics struct {
	// Stream bus
	Published     *prometheus.CounterVec
	Delivered     *prometheus.CounterVec
	HandlerErrors *prometheus.CounterVec
	HandlerTime   *prometheus.HistogramVec

	// Consumers
	DeadLettered   *prometheus.CounterVec
	MappingMissing *prometheus.CounterVec

	// Offline sync
	SyncRecords   *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	PendingUpload prometheus.Gauge

	// Deadline monitor
	TasksOpen     prometheus.Gauge
	TasksAtRisk   prometheus.Gauge
	TasksBreached prometheus.Gauge

	// Side channels
	Notifications *prometheus.CounterVec
	Archived      *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_stream_published_total",
			Help: "Entries appended to a topic",
		}, []string{"topic"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_stream_delivered_total",
			Help: "Entries handled successfully and committed",
		}, []string{"topic", "group"}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_stream_handler_errors_total",
			Help: "Handler failures; the entry is retried on the next tick",
		}, []string{"topic", "group"}),
		HandlerTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_stream_handler_duration_seconds",
			Help:    "Handler execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic", "group"}),
		DeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_dead_lettered_total",
			Help: "Poison events written to the dead-letter topic",
		}, []string{"topic", "reason"}),
		MappingMissing: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_mapping_missing_total",
			Help: "Events skipped because no cross-reference existed",
		}, []string{"topic"}),
		SyncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sync_records_total",
			Help: "Offline capture records processed by sync passes",
		}, []string{"result"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_sync_duration_seconds",
			Help:    "Duration of one sync pass",
			Buckets: prometheus.DefBuckets,
		}),
		PendingUpload: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_sync_pending_records",
			Help: "Capture records waiting for upload",
		}),
		TasksOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_tasks_open",
			Help: "Open delivery tasks",
		}),
		TasksAtRisk: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_tasks_at_risk",
			Help: "Open delivery tasks past the warning threshold",
		}),
		TasksBreached: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_tasks_breached",
			Help: "Open delivery tasks past their target",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_notifications_total",
			Help: "Notifications dispatched",
		}, []string{"channel", "result"}),
		Archived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_archive_documents_total",
			Help: "Envelopes indexed into the central event archive",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObservePublished(topic string, n int) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic).Add(float64(n))
}

func (m *Metrics) ObserveHandled(topic, group string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.HandlerTime.WithLabelValues(topic, group).Observe(seconds)
	if err != nil {
		m.HandlerErrors.WithLabelValues(topic, group).Inc()
		return
	}
	m.Delivered.WithLabelValues(topic, group).Inc()
}

func (m *Metrics) ObserveDeadLetter(topic, reason string) {
	if m == nil {
		return
	}
	m.DeadLettered.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) ObserveMappingMissing(topic string) {
	if m == nil {
		return
	}
	m.MappingMissing.WithLabelValues(topic).Inc()
}

func (m *Metrics) ObserveSync(synced, failed int, seconds float64) {
	if m == nil {
		return
	}
	m.SyncRecords.WithLabelValues("synced").Add(float64(synced))
	m.SyncRecords.WithLabelValues("failed").Add(float64(failed))
	m.SyncDuration.Observe(seconds)
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingUpload.Set(float64(n))
}

func (m *Metrics) SetTaskGauges(open, atRisk, breached int) {
	if m == nil {
		return
	}
	m.TasksOpen.Set(float64(open))
	m.TasksAtRisk.Set(float64(atRisk))
	m.TasksBreached.Set(float64(breached))
}

func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveArchived(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Archived.WithLabelValues(result).Inc()
}
