// Package main is the entry point for the notification relay.
//
// The relay consumes the notification queue (and optionally the alert queue)
// from RabbitMQ or SQS, broadcasts each event to the patient's websocket room,
// pushes it to LINE and acknowledges the message. It also serves /ws, /health
// and /metrics over HTTP.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"notifyrelay/internal/config"
	"notifyrelay/internal/core"
	"notifyrelay/internal/listener"
	notify "notifyrelay/internal/notifications/core"
	"notifyrelay/internal/types"
)

// slogAdapter wraps *slog.Logger to satisfy types.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slogger := newLogger(cfg.LogLevel).With("service", cfg.Service)
	logger := &slogAdapter{logger: slogger}
	logger.Info("notification relay starting",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"queue_driver", cfg.Broker.Driver,
		"realtime_mode", cfg.Realtime.Mode,
		"metrics_backend", cfg.Observability.MetricsBackend,
	)

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	srv, err := core.NewServer(cfg, slogger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Realtime = http.HandlerFunc(deps.hub.ServeWS)
	srv.Metrics = deps.httpMetrics
	srv.MetricsHandler = deps.metricsHandler

	router := notify.NewRouter(deps.realtime, deps.chat,
		notify.WithAudioFallback(cfg.Delivery.AudioFallbackDuration),
		notify.WithMetrics(deps.metrics),
	)
	routes := buildRoutes(cfg, router, deps, logger)
	supervisor := listener.NewSupervisor(deps.broker, routes, logger,
		listener.WithBackoff(listener.FixedBackoff(cfg.Broker.ReconnectBackoff)),
		listener.WithReconnectRecorder(deps.metrics),
	)

	srv.HealthProbes = append([]core.HealthProbe{core.ListenerProbe("listener", supervisor)}, deps.probes...)
	srv.MountRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, nil)
	})
	g.Go(func() error {
		supervisor.Run(gctx)
		return nil
	})
	if deps.bridge != nil {
		g.Go(func() error {
			return deps.bridge.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("notification relay stopped")
	return err
}

// buildRoutes binds every consumed queue to its handler.
func buildRoutes(cfg *config.Config, router notify.Deliverer, deps *dependencies, logger types.Logger) []listener.Route {
	notifications := notify.NewNotificationHandler(router, deps.deadLetters, deps.metrics, logger)
	routes := []listener.Route{{Queue: cfg.Broker.NotificationQueue, Handler: notifications.Handle}}

	if cfg.Feature.EnableAlerts && cfg.Broker.AlertQueue != "" {
		alerts := notify.NewAlertHandler(deps.alerts, deps.metrics, logger)
		routes = append(routes, listener.Route{Queue: cfg.Broker.AlertQueue, Handler: alerts.Handle})
	}
	return routes
}

// newLogger creates a JSON slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
