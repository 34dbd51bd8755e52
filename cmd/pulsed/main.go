// Command pulsed runs the callpulse real-time gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/callpulse/callpulse/gateway/internal/analytics"
	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/config"
	"github.com/callpulse/callpulse/gateway/internal/hub"
	"github.com/callpulse/callpulse/gateway/internal/metrics"
	"github.com/callpulse/callpulse/gateway/internal/registry"
	"github.com/callpulse/callpulse/gateway/internal/router"
	"github.com/callpulse/callpulse/gateway/internal/scheduler"
	"github.com/callpulse/callpulse/gateway/internal/server"
	"github.com/callpulse/callpulse/gateway/internal/store"
	"github.com/callpulse/callpulse/gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./pulsed.yaml)")
	flag.Parse()

	cfg, err := config.Load(slog.Default(), *configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := store.Open(ctx, cfg.Sessions)
	if err != nil {
		return err
	}
	defer sessions.Close()

	calls, err := analytics.Open(ctx, cfg.Analytics)
	if err != nil {
		return err
	}
	defer calls.Close()

	promReg := metrics.NewRegistry()
	m := metrics.New(promReg)

	reg := registry.New(logger)
	h := hub.NewHub(hub.Config(cfg.Gateway), reg, m, logger)
	events := router.NewEventRouter(logger, reg, h, m)
	h.SetMessageHandler(events.HandleMessage)

	sched := scheduler.New(
		scheduler.Config(cfg.Scheduler),
		reg,
		h,
		telemetry.NewSampler(logger),
		analytics.NewDashboards(calls),
		calls,
		m,
		logger,
	)

	resolver := auth.NewResolver(sessions, auth.WithTokenFormatCheck(cfg.Sessions.CheckTokenFormat))
	srv := server.New(cfg.Server, resolver, h, reg, m, promReg, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("gateway starting",
			"addr", cfg.Server.Address,
			"sessions", cfg.Sessions.Driver,
			"analytics", cfg.Analytics.Driver,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if err := sched.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway")
	case serveErr = <-errc:
		logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hub shutdown", "error", err)
	}
	logger.Info("gateway stopped")
	return serveErr
}
