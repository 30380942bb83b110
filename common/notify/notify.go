// Package notify dispatches fire-and-forget notifications. Channel failures
// are logged and counted, never returned to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/database"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
)

// Kinds of notification.
const (
	KindTaskAccepted  = "task_accepted"
	KindTaskInTransit = "task_in_transit"
	KindDelivered     = "delivered"
	KindException     = "exception"
	KindCancelled     = "cancelled"
	KindOnHold        = "on_hold"
	KindAtRisk        = "deadline_at_risk"
	KindBreached      = "deadline_breached"
)

// Notification is one message for a person or team.
type Notification struct {
	Kind      string            `json:"kind"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	EntityID  string            `json:"entity_id"`
	Severity  string            `json:"severity,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// Notifier accepts notifications without reporting delivery failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Channel delivers a notification somewhere.
type Channel interface {
	Send(ctx context.Context, n Notification) error
	Type() string
}

// Dispatcher fans a notification out to every channel in the background.
type Dispatcher struct {
	channels []Channel
	logger   *logging.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Each channel send is bounded by timeout.
func NewDispatcher(logger *logging.Logger, m *metrics.Metrics, timeout time.Duration, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logger, metrics: m, timeout: timeout}
}

// Notify implements Notifier.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()
			sendCtx, cancel := database.RemoteContext(base, d.timeout)
			defer cancel()

			err := ch.Send(sendCtx, n)
			d.metrics.ObserveNotification(ch.Type(), err)
			if err != nil {
				d.logger.WarnContext(base, "notification failed",
					"channel", ch.Type(), "kind", n.Kind, "entity_id", n.EntityID, logging.Error(err))
			}
		}(ch)
	}
}

// Wait blocks until every in-flight send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger *logging.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Type() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, n Notification) error {
	c.logger.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"recipient", n.Recipient,
		"subject", n.Subject,
		"entity_id", n.EntityID,
		"severity", n.Severity,
	)
	return nil
}
