package main

import (
	"log/slog"
	"os"

	"github.com/telhawk-systems/logistics-bridge/cli/pkg/output"
	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/tokens"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/capture"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/remote"
)

// env holds what the commands of one invocation share.
type env struct {
	cfgFile string
	format  string

	cfg    *config.Config
	logger *logging.Logger
	out    *output.Printer
	store  *capture.Store
	conn   capture.Connectivity
	upload capture.Uploader
}

func (e *env) load() error {
	if e.cfg == nil {
		cfg, err := config.Load(e.cfgFile, config.PrefixDriver)
		if err != nil {
			return err
		}
		e.cfg = cfg
	}
	if e.logger == nil {
		level := logging.ParseLevel(e.cfg.Logging.Level)
		if level < slog.LevelWarn {
			level = slog.LevelWarn
		}
		e.logger = logging.NewWithWriter(os.Stderr, level, "text")
	}
	return nil
}

func (e *env) openStore() (*capture.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	store, err := capture.Open(e.cfg.Capture.Dir, e.logger)
	if err != nil {
		return nil, err
	}
	e.store = store
	return store, nil
}

func (e *env) coordinator(progress func(float64)) (*capture.Coordinator, error) {
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	if e.upload == nil {
		var signer *tokens.Signer
		if e.cfg.Auth.ServiceSecret != "" {
			signer = tokens.NewSigner(e.cfg.Auth.ServiceSecret, e.cfg.Auth.TokenTTL)
		}
		client, err := remote.New(remote.Options{
			BaseURL:  e.cfg.Remote.URL,
			Timeout:  e.cfg.Remote.Timeout,
			DeviceID: e.cfg.Capture.DeviceID,
			Signer:   signer,
		}, e.logger)
		if err != nil {
			return nil, err
		}
		e.upload = client
		e.conn = capture.NewProbeConnectivity(client, e.cfg.Capture.ProbeTimeout)
	}

	cc := e.cfg.Capture
	return capture.NewCoordinator(store, e.upload, e.conn, e.logger, nil, capture.CoordinatorOptions{
		Interval:    cc.SyncInterval,
		ProbeEvery:  cc.ProbeEvery,
		RatePerSec:  cc.RatePerSec,
		Burst:       cc.Burst,
		MaxAttempts: cc.MaxAttempts,
		Progress:    progress,
	}), nil
}
