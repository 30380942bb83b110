package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
)

// ErrSyncInProgress is returned when a pass is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Uploader writes one record to the remote system, including attachments.
// Errors wrapped with backoff.Permanent are not retried within a pass.
type Uploader interface {
	Upload(ctx context.Context, rec Record) error
}

// Connectivity reports whether the remote system is reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// RecordError is the failure of one record in a pass.
type RecordError struct {
	LocalID string `json:"local_id"`
	TaskID  string `json:"task_id"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %s", e.LocalID, e.Message)
}

// Result summarises one sync pass.
type Result struct {
	Synced  int           `json:"synced_count"`
	Failed  int           `json:"failed_count"`
	Errors  []RecordError `json:"errors,omitempty"`
	Offline bool          `json:"offline,omitempty"`
}

// CoordinatorOptions tunes sync passes.
type CoordinatorOptions struct {
	// Interval between periodic passes while online.
	Interval time.Duration
	// ProbeEvery is how often connectivity is checked to catch reconnects.
	ProbeEvery time.Duration
	// RatePerSec and Burst limit uploads. Zero disables limiting.
	RatePerSec float64
	Burst      int
	// MaxAttempts bounds retries of one record within a pass.
	MaxAttempts int
	// InitialBackoff is the first retry delay within a pass.
	InitialBackoff time.Duration
	// Progress receives the fraction of the pass completed after each record.
	Progress func(fraction float64)
}

// Coordinator uploads queued records. At most one pass runs at a time.
type Coordinator struct {
	store    *Store
	uploader Uploader
	conn     Connectivity
	limiter  *rate.Limiter
	opts     CoordinatorOptions
	logger   *logging.Logger
	metrics  *metrics.Metrics

	running atomic.Bool
	trigger chan struct{}
}

// NewCoordinator creates a Coordinator. m may be nil.
func NewCoordinator(store *Store, uploader Uploader, conn Connectivity, logger *logging.Logger, m *metrics.Metrics, opts CoordinatorOptions) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeEvery <= 0 {
		opts.ProbeEvery = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &Coordinator{
		store:    store,
		uploader: uploader,
		conn:     conn,
		limiter:  limiter,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks Run for a pass as soon as possible.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// SyncAll uploads every unsynced record in capture order. Failed records
// stay queued for the next pass. Offline, it does nothing.
func (c *Coordinator) SyncAll(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer c.running.Store(false)

	if !c.conn.Online(ctx) {
		c.logger.DebugContext(ctx, "offline, sync skipped")
		return Result{Offline: true}, nil
	}

	start := time.Now()
	pending := c.store.Unsynced()
	var res Result
	for i, rec := range pending {
		if err := c.limiter.Wait(ctx); err != nil {
			return res, err
		}
		if err := c.syncOne(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			c.store.RecordFailure(rec.LocalID, err)
			res.Failed++
			res.Errors = append(res.Errors, RecordError{LocalID: rec.LocalID, TaskID: rec.TargetEntityID, Err: err, Message: err.Error()})
			c.logger.WarnContext(ctx, "capture upload failed",
				logging.LocalID(rec.LocalID), logging.TaskID(rec.TargetEntityID), logging.Error(err))
		} else {
			res.Synced++
		}
		if c.opts.Progress != nil {
			c.opts.Progress(float64(i+1) / float64(len(pending)))
		}
	}

	c.metrics.ObserveSync(res.Synced, res.Failed, time.Since(start).Seconds())
	c.metrics.SetPending(c.store.Len())
	if len(pending) > 0 {
		c.logger.InfoContext(ctx, "sync pass finished", "synced", res.Synced, "failed", res.Failed)
	}
	return res, nil
}

func (c *Coordinator) syncOne(ctx context.Context, rec Record) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.MaxAttempts-1)), ctx)

	if err := backoff.Retry(func() error { return c.uploader.Upload(ctx, rec) }, b); err != nil {
		return err
	}
	if err := c.store.MarkSynced(rec.LocalID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Purged while the upload was in flight.
			c.logger.DebugContext(ctx, "uploaded record was purged", logging.LocalID(rec.LocalID))
			return nil
		}
		return err
	}
	if err := c.store.Delete(rec.LocalID); err != nil {
		// Open removes synced files on the next start.
		c.logger.WarnContext(ctx, "synced record not deleted", logging.LocalID(rec.LocalID), logging.Error(err))
	}
	return nil
}

// Run syncs periodically while online, immediately when connectivity
// returns and whenever Trigger is called, until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	syncTick := time.NewTicker(c.opts.Interval)
	defer syncTick.Stop()
	probeTick := time.NewTicker(c.opts.ProbeEvery)
	defer probeTick.Stop()

	online := c.conn.Online(ctx)
	c.logger.Info("sync coordinator started", "online", online, "interval", c.opts.Interval)
	if online {
		c.pass(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.trigger:
			c.pass(ctx)
		case <-syncTick.C:
			if online {
				c.pass(ctx)
			}
		case <-probeTick.C:
			now := c.conn.Online(ctx)
			if now && !online {
				c.logger.Info("connectivity restored")
				online = now
				c.pass(ctx)
				continue
			}
			if !now && online {
				c.logger.Warn("connectivity lost")
			}
			online = now
		}
	}
}

func (c *Coordinator) pass(ctx context.Context) {
	if _, err := c.SyncAll(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) && ctx.Err() == nil {
		c.logger.ErrorContext(ctx, "sync pass failed", logging.Error(err))
	}
}
