// Package core provides the HTTP chassis of the notification relay. It serves
// the websocket endpoint browsers join rooms on, the health check used by
// orchestrators and the Prometheus scrape endpoint, behind a shared chain of
// recovery, request ID, logging and CORS middleware.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"notifyrelay/internal/config"
)

// defaultShutdownTimeout bounds graceful shutdown when the config leaves it unset.
const defaultShutdownTimeout = 10 * time.Second

// MetricsCollector records HTTP request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server holds the dependencies of the relay's HTTP surface. Fields are set
// by main between NewServer and MountRoutes.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// Realtime serves GET /ws. Nil leaves the route unmounted.
	Realtime http.Handler
	// MetricsHandler serves GET /metrics. Nil leaves the route unmounted.
	MetricsHandler http.Handler

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves on ln until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout. A nil ln listens on the
// configured port.
func (s *Server) ListenAndServe(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", ":"+s.Config.Server.Port)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	return s.Shutdown(httpSrv)
}

// Shutdown stops accepting connections and waits for active requests.
// Hijacked websocket connections are not tracked by net/http; the hub closes
// those itself.
func (s *Server) Shutdown(httpSrv *http.Server) error {
	timeout := s.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	s.Logger.Info("http server shutdown initiated", "timeout", timeout.String())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		s.Logger.Error("http server shutdown failed", "error", err)
		return fmt.Errorf("shutting down http server: %w", err)
	}

	s.Logger.Info("http server shutdown complete")
	return nil
}
