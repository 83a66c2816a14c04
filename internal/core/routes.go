package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"notifyrelay/internal/types"
)

// probeRequestTimeout bounds /health and /metrics. The websocket route is
// long-lived and gets no deadline.
const probeRequestTimeout = 5 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Sec-WebSocket-Key",
}

// MountRoutes registers the middleware chain and the relay's routes.
//
// Order:
//  1. Recoverer      - outermost so every panic is caught.
//  2. RequestID      - correlation ID for logs.
//  3. RequestLogger  - structured access log with redacted headers.
//  4. CORS           - browser origins allowed to call /health and /ws.
//  5. Metrics        - per-route latency and count.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(cors.Handler(s.corsOptions()))
	s.router.Use(s.MetricsMiddleware)

	s.router.Group(func(r chi.Router) {
		r.Use(ContextTimeoutMiddleware(probeRequestTimeout))
		r.Get("/health", s.HandleHealth)
		if s.MetricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", s.MetricsHandler)
		}
	})
	if s.Realtime != nil {
		s.router.Method(http.MethodGet, "/ws", s.Realtime)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "no route for "+r.Method+" "+r.URL.Path, nil))
	})
}

func (s *Server) corsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: s.corsAllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, stores
// it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}

// generateRequestID returns 16 random bytes as 32 hex characters.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
