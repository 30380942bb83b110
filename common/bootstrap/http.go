package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/database"
	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/httputil"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/middleware"
	"github.com/telhawk-systems/logistics-bridge/common/stream"
)

// RegisterOps adds the health, readiness, metrics and topic routes shared
// by every service.
func (in *Infra) RegisterOps(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": in.Config.Service})
	})
	mux.HandleFunc("GET /readyz", in.ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(in.Registry, promhttp.HandlerOpts{Registry: in.Registry}))
	mux.HandleFunc("GET /api/v1/topics", in.topics)
}

func (in *Infra) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := database.QueryContext(r.Context())
	defer cancel()
	if err := in.Bus.Ping(ctx); err != nil {
		in.Logger.WarnContext(ctx, "readiness check failed", logging.Error(err))
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (in *Infra) topics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := database.QueryContext(r.Context())
	defer cancel()

	out := make([]stream.TopicInfo, 0, len(events.AllTopics()))
	for _, topic := range events.AllTopics() {
		info, err := in.Bus.TopicInfo(ctx, topic)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, info)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// Handler wraps h with request IDs and access logging.
func Handler(h http.Handler, logger *logging.Logger) http.Handler {
	return middleware.RequestID(middleware.AccessLog(logger.Logger)(h))
}

// Serve runs an HTTP server until ctx is done, then shuts it down within
// cfg.ShutdownTimeout.
func Serve(ctx context.Context, cfg config.ServerConfig, h http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
