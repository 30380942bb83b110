// Package app assembles the logistics service from shared infrastructure.
package app

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/logistics-bridge/common/bootstrap"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/common/tokens"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/consumer"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/monitor"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/producer"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/server"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/service"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

// App is a wired logistics service.
type App struct {
	infra      *bootstrap.Infra
	Store      *tasks.Store
	Service    *service.Service
	Subscriber *integration.Subscriber
	Monitor    *monitor.Monitor
	signer     *tokens.Signer
}

func New(in *bootstrap.Infra) *App {
	cfg := in.Config
	store := tasks.NewStore()
	prod := producer.New(integration.NewPublisher(in.Bus, in.Logger), in.Logger)

	sub := integration.NewSubscriber(in.Bus, in.DLQ, in.Logger, cfg.Stream.Consumer)
	consumer.New(store, in.Xref, in.Engine, in.Notifier, in.Logger, in.Metrics).Register(sub)

	a := &App{
		infra:      in,
		Store:      store,
		Service:    service.New(store, in.Engine, prod, in.Logger),
		Subscriber: sub,
	}
	if cfg.Monitor.Enabled {
		a.Monitor = monitor.New(store, in.Engine, in.Notifier, in.Logger, in.Metrics, cfg.Monitor.Interval)
	}
	if cfg.Auth.ServiceSecret != "" {
		a.signer = tokens.NewSigner(cfg.Auth.ServiceSecret, cfg.Auth.TokenTTL)
	}
	return a
}

// Register adds the task API to mux.
func (a *App) Register(mux *http.ServeMux) {
	server.Register(mux, server.NewTaskHandler(a.Service, a.infra.Logger), a.signer)
}

// Run consumes materials events and watches deadlines until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Subscriber.Run(ctx) })
	if a.Monitor != nil {
		g.Go(func() error { return a.Monitor.Run(ctx) })
	}
	return g.Wait()
}
