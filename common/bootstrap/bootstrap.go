// Package bootstrap builds the shared infrastructure of a bridge process
// from its configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/logistics-bridge/common/archive"
	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/dlq"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/metrics"
	"github.com/telhawk-systems/logistics-bridge/common/notify"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
	"github.com/telhawk-systems/logistics-bridge/common/stream/jetstream"
	"github.com/telhawk-systems/logistics-bridge/common/stream/redisstream"
	"github.com/telhawk-systems/logistics-bridge/common/xref"
)

// Infra is everything a service needs besides its own domain code.
type Infra struct {
	Config   *config.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Bus      *stream.Bus
	DLQ      *dlq.Queue
	Xref     xref.Store
	Engine   *deadline.Engine
	Notifier *notify.Dispatcher
	Archiver *archive.Archiver

	redis   *redis.Client
	closers []func()
}

// NewLogger builds the process logger and installs it as the slog default.
func NewLogger(cfg config.LoggingConfig, service string) *logging.Logger {
	logger := logging.New(logging.ParseLevel(cfg.Level), cfg.Format).With(logging.Service(service))
	logging.SetDefault(logger)
	return logger
}

// Open builds the infrastructure described by cfg. Close releases it.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Infra, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	in := &Infra{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	engine, err := NewEngine(cfg.Deadline)
	if err != nil {
		return nil, err
	}
	in.Engine = engine

	if err := in.openBus(ctx); err != nil {
		in.Close()
		return nil, err
	}
	in.DLQ = dlq.NewQueue(in.Bus, logger, in.Metrics)

	if err := in.openXref(ctx); err != nil {
		in.Close()
		return nil, err
	}

	in.Notifier = NewNotifier(cfg.Notify, logger, in.Metrics)

	if cfg.OpenSearch.Enabled {
		indexer, err := archive.NewOpenSearchIndexer(cfg.OpenSearch)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.Archiver = archive.NewArchiver(indexer, cfg.OpenSearch.IndexPrefix, logger, in.Metrics)
	}
	return in, nil
}

// Close releases connections in reverse order of creation.
func (in *Infra) Close() {
	if in.Notifier != nil {
		in.Notifier.Wait()
	}
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

func (in *Infra) redisClient() (*redis.Client, error) {
	if in.redis != nil {
		return in.redis, nil
	}
	client, err := NewRedisClient(in.Config.Redis)
	if err != nil {
		return nil, err
	}
	in.redis = client
	in.closers = append(in.closers, func() { _ = client.Close() })
	return client, nil
}

func (in *Infra) openBus(ctx context.Context) error {
	sc := in.Config.Stream
	opts := stream.Options{PollInterval: sc.PollInterval, BatchSize: sc.BatchSize, Metrics: in.Metrics}

	switch sc.Backend {
	case config.BackendMemory:
		in.Bus = stream.NewMemory(sc.Retention, in.Logger, opts)

	case config.BackendRedis:
		client, err := in.redisClient()
		if err != nil {
			return err
		}
		in.Bus = stream.New(redisstream.NewLog(client, sc.Retention), redisstream.NewCursors(client), in.Logger, opts)

	case config.BackendJetStream:
		nc := in.Config.NATS
		jcfg := jetstream.DefaultConfig()
		jcfg.URL = nc.URL
		jcfg.Name = in.Config.Service
		jcfg.MaxReconnects = nc.MaxReconnects
		jcfg.ReconnectWait = nc.ReconnectWait
		jcfg.Timeout = nc.Timeout
		if nc.CursorBucket != "" {
			jcfg.CursorBucket = nc.CursorBucket
		}
		conn, js, err := jetstream.Connect(jcfg, in.Logger)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, conn.Close)
		cursors, err := jetstream.NewCursors(ctx, js, jcfg.CursorBucket)
		if err != nil {
			return err
		}
		in.Bus = stream.New(jetstream.NewLog(js, conn, sc.Retention), cursors, in.Logger, opts)

	default:
		return fmt.Errorf("unknown stream backend %q", sc.Backend)
	}

	in.closers = append(in.closers, in.Bus.Close)
	if err := in.Bus.Ping(ctx); err != nil {
		return fmt.Errorf("stream backend %s unavailable: %w", sc.Backend, err)
	}
	in.Logger.Info("stream bus ready", "backend", sc.Backend, "retention", sc.Retention)
	return nil
}

func (in *Infra) openXref(ctx context.Context) error {
	xc := in.Config.Xref
	switch xc.Backend {
	case config.BackendMemory:
		in.Xref = xref.NewMemoryStore()

	case config.BackendRedis:
		client, err := in.redisClient()
		if err != nil {
			return err
		}
		in.Xref = xref.NewRedisStore(client)

	case config.BackendPostgres:
		dsn := in.Config.Postgres.DSN()
		if xc.Migrate {
			if err := xref.Migrate(dsn); err != nil {
				return err
			}
		}
		store, err := xref.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, store.Close)
		in.Xref = store

	default:
		return fmt.Errorf("unknown xref backend %q", xc.Backend)
	}
	in.Logger.Info("cross-reference store ready", "backend", xc.Backend)
	return nil
}

// NewRedisClient parses cfg.URL and verifies nothing; callers ping.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.MaxRetries != 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return redis.NewClient(opts), nil
}

// NewEngine builds the deadline engine from configuration.
func NewEngine(cfg config.DeadlineConfig) (*deadline.Engine, error) {
	cal := deadline.Calendar{
		BusinessHoursOnly: cfg.BusinessHoursOnly,
		Holidays:          cfg.Holidays,
		BufferMinutes:     cfg.BufferMinutes,
	}

	var errs []error
	var err error
	if cal.Start, err = deadline.ParseClock(cfg.Start); err != nil {
		errs = append(errs, err)
	}
	if cal.End, err = deadline.ParseClock(cfg.End); err != nil {
		errs = append(errs, err)
	}
	for _, d := range cfg.Workdays {
		wd, err := deadline.ParseWeekday(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cal.Workdays = append(cal.Workdays, wd)
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if cal.Location, err = time.LoadLocation(tz); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", tz, err))
	}

	sla := deadline.SLATable{
		ByEntity: make(map[string]map[deadline.Priority]int),
		Default:  make(map[deadline.Priority]int),
		Fallback: cfg.FallbackMinutes,
	}
	for p, m := range cfg.DefaultSLA {
		pr, err := deadline.ParsePriority(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sla.Default[pr] = m
	}
	for entity, byPriority := range cfg.SLA {
		sla.ByEntity[entity] = make(map[deadline.Priority]int)
		for p, m := range byPriority {
			pr, err := deadline.ParsePriority(p)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			sla.ByEntity[entity][pr] = m
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid deadline configuration: %w", errors.Join(errs...))
	}
	return deadline.NewEngine(cal, sla, cfg.WarningThreshold)
}

// NewNotifier builds the notification dispatcher from configuration.
func NewNotifier(cfg config.NotifyConfig, logger *logging.Logger, m *metrics.Metrics) *notify.Dispatcher {
	var channels []notify.Channel
	if cfg.Log {
		channels = append(channels, notify.NewLogChannel(logger))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.WebhookURL, cfg.Timeout))
	}
	return notify.NewDispatcher(logger, m, cfg.Timeout, channels...)
}

// RunArchiver feeds every topic into the event archive until ctx is done.
// It returns immediately when the archive is disabled.
func (in *Infra) RunArchiver(ctx context.Context, consumer string) error {
	if in.Archiver == nil {
		return nil
	}
	stop, err := in.Archiver.Start(ctx, in.Bus, consumer, events.AllTopics())
	if err != nil {
		return err
	}
	<-ctx.Done()
	stop()
	return nil
}
