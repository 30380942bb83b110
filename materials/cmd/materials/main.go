package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/logistics-bridge/common/bootstrap"
	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "materials: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath, config.PrefixMaterials)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Service == "bridge" {
		cfg.Service = "materials"
	}
	logger := bootstrap.NewLogger(cfg.Logging, cfg.Service)
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer in.Close()

	a := app.New(in)
	mux := http.NewServeMux()
	a.Register(mux)
	in.RegisterOps(mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(ctx) })
	g.Go(func() error { return in.RunArchiver(ctx, a.Subscriber.Consumer()) })
	g.Go(func() error { return bootstrap.Serve(ctx, cfg.Server, bootstrap.Handler(mux, logger), logger) })

	logger.Info("materials service started", "port", cfg.Server.Port, logging.Consumer(a.Subscriber.Consumer()))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("materials service stopped")
	return nil
}
