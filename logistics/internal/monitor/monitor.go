// Package monitor periodically evaluates the deadline of every open task.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
	"github.com/telhawk-systems/logistics-bridge/common/notify"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

// DispatchRecipient receives alerts for tasks no driver has accepted yet.
const DispatchRecipient = "dispatch"

// Summary is the outcome of one evaluation pass.
type Summary struct {
	Open     int
	AtRisk   int
	Breached int
}

type alerted struct {
	atRisk   bool
	breached bool
}

// Monitor raises one notification per task when it becomes at risk and one
// when it breaches.
type Monitor struct {
	store    *tasks.Store
	engine   *deadline.Engine
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]alerted

	stop    chan struct{}
	stopped chan struct{}
}

// New creates a Monitor.
func New(store *tasks.Store, engine *deadline.Engine, notifier notify.Notifier, logger *logging.Logger, m *metrics.Metrics, interval time.Duration) *Monitor {
	return &Monitor{
		store:    store,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		interval: interval,
		now:      time.Now,
		sent:     make(map[string]alerted),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run evaluates immediately and then on every tick until ctx is done or
// Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.stopped)

	m.logger.Info("deadline monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-m.stop:
			m.logger.Info("deadline monitor stopped")
			return nil
		case <-ctx.Done():
			m.logger.Info("deadline monitor context cancelled")
			return nil
		}
	}
}

// Stop signals Run to return and waits for it.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.stopped
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.Check(ctx); err != nil {
		m.logger.ErrorContext(ctx, "deadline check failed", logging.Error(err))
	}
}

// Check evaluates every open task once.
func (m *Monitor) Check(ctx context.Context) (Summary, error) {
	open, err := m.store.List(ctx, tasks.Filter{OpenOnly: true})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list open tasks: %w", err)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var sum Summary
	live := make(map[string]bool, len(open))
	for _, t := range open {
		live[t.ID] = true
		sum.Open++

		st, err := m.engine.Status(t.Subject(), now)
		if err != nil {
			m.logger.WarnContext(ctx, "cannot evaluate deadline", logging.TaskID(t.ID), logging.Error(err))
			continue
		}

		prev := m.sent[t.ID]
		switch {
		case st.IsBreached:
			sum.Breached++
			if !prev.breached {
				m.alert(ctx, t, st, notify.KindBreached, "Delivery deadline breached", "critical")
				prev.breached = true
			}
		case st.IsAtRisk:
			sum.AtRisk++
			if !prev.atRisk {
				m.alert(ctx, t, st, notify.KindAtRisk, "Delivery deadline at risk", "warning")
				prev.atRisk = true
			}
		}
		m.sent[t.ID] = prev
	}
	for id := range m.sent {
		if !live[id] {
			delete(m.sent, id)
		}
	}

	m.metrics.SetTaskGauges(sum.Open, sum.AtRisk, sum.Breached)
	return sum, nil
}

func (m *Monitor) alert(ctx context.Context, t tasks.Task, st deadline.Status, kind, subject, severity string) {
	recipient := t.AssignedTo
	if recipient == "" {
		recipient = DispatchRecipient
	}
	m.logger.WarnContext(ctx, subject, logging.TaskID(t.ID), "percentage_used", st.PercentageUsed, "target_at", st.TargetAt)
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, notify.Notification{
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Body:      fmt.Sprintf("Task %s to %s is %.0f%% through its SLA (target %s)", t.ID, t.DeliveryLocation, st.PercentageUsed, st.TargetAt.Format(time.RFC3339)),
		EntityID:  t.ID,
		Severity:  severity,
		Fields: map[string]string{
			"request_id": t.RequestID,
			"priority":   string(t.Priority),
		},
		At: m.now().UTC(),
	})
}
