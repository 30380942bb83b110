package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/logging"
)

type subscription struct {
	bus      *Bus
	topic    string
	group    string
	consumer string
	handler  Handler
	logger   *logging.Logger
	done     chan struct{}
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.bus.opts.PollInterval)
	defer ticker.Stop()

	s.logger.DebugContext(ctx, "subscription started")
	for {
		// Taken before reading so a publish during poll is not missed.
		wake := s.bus.waiter(s.topic)

		full, err := s.poll(ctx)
		if ctx.Err() != nil {
			s.logger.DebugContext(context.WithoutCancel(ctx), "subscription stopped")
			return
		}
		if err != nil {
			s.logger.WarnContext(ctx, "delivery stalled, retrying next tick", logging.Error(err))
		} else if full {
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.DebugContext(context.WithoutCancel(ctx), "subscription stopped")
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// poll delivers one batch. It reports whether the batch was full.
func (s *subscription) poll(ctx context.Context) (bool, error) {
	cursor, err := s.bus.cursors.Load(ctx, s.topic, s.group, s.consumer)
	if err != nil {
		return false, fmt.Errorf("failed to load cursor: %w", err)
	}

	msgs, err := s.bus.log.Range(ctx, s.topic, cursor, s.bus.opts.BatchSize)
	if err != nil {
		return false, fmt.Errorf("failed to read: %w", err)
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return false, nil
		}

		// The handler and the commit outlive cancellation so an in-flight
		// entry is either fully handled and committed or retried later.
		hctx := context.WithoutCancel(ctx)
		start := time.Now()
		err := s.invoke(hctx, msg)
		s.bus.opts.Metrics.ObserveHandled(s.topic, s.group, time.Since(start).Seconds(), err)
		if err != nil {
			return false, fmt.Errorf("handler failed on entry %s: %w", msg.ID, err)
		}

		if err := s.bus.cursors.Commit(hctx, s.topic, s.group, s.consumer, msg.ID); err != nil {
			return false, fmt.Errorf("failed to commit cursor %s: %w", msg.ID, err)
		}
	}
	return len(msgs) == s.bus.opts.BatchSize, nil
}

func (s *subscription) invoke(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, msg)
}
