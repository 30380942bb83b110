// Package app assembles the materials service from shared infrastructure.
package app

import (
	"context"
	"net/http"

	"github.com/telhawk-systems/logistics-bridge/common/bootstrap"
	"github.com/telhawk-systems/logistics-bridge/common/integration"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/consumer"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/producer"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/server"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/service"
)

// App is a wired materials service.
type App struct {
	infra      *bootstrap.Infra
	Store      *requests.Store
	Service    *service.Service
	Subscriber *integration.Subscriber
}

func New(in *bootstrap.Infra) *App {
	store := requests.NewStore()
	prod := producer.New(integration.NewPublisher(in.Bus, in.Logger), in.Logger)

	sub := integration.NewSubscriber(in.Bus, in.DLQ, in.Logger, in.Config.Stream.Consumer)
	consumer.New(store, in.Xref, in.Notifier, in.Logger, in.Metrics).Register(sub)

	return &App{
		infra:      in,
		Store:      store,
		Service:    service.New(store, in.Engine, prod, in.Logger),
		Subscriber: sub,
	}
}

// Register adds the request API to mux.
func (a *App) Register(mux *http.ServeMux) {
	server.Register(mux, server.NewRequestHandler(a.Service, a.infra.Logger))
}

// Run consumes logistics events until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.Subscriber.Run(ctx)
}
