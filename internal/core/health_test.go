package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockHealthProbe implements HealthProbe for testing.
type mockHealthProbe struct {
	name     string
	checkErr error
	// delay simulates a slow dependency.
	delay  time.Duration
	panics bool
	called atomic.Bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	m.called.Store(true)
	if m.panics {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubState bool

func (s stubState) Consuming() bool { return bool(s) }

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)

	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected 'healthy', got %q", resp.Status)
	}
	if len(resp.Components) != 0 {
		t.Errorf("expected no components, got %v", resp.Components)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	listener := &mockHealthProbe{name: "listener"}
	database := &mockHealthProbe{name: "database"}

	code, resp := runHealth(t, listener, database)

	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	for _, name := range []string{"listener", "database"} {
		if resp.Components[name].Status != "healthy" {
			t.Errorf("component %q: expected 'healthy', got %q", name, resp.Components[name].Status)
		}
	}
	if !listener.called.Load() || !database.called.Load() {
		t.Error("expected every probe to run")
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	code, resp := runHealth(t,
		&mockHealthProbe{name: "listener"},
		&mockHealthProbe{name: "redis", checkErr: errors.New("connection refused")},
	)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("expected 'unhealthy', got %q", resp.Status)
	}
	if got := resp.Components["redis"]; got.Status != "unhealthy" || got.Message != "connection refused" {
		t.Errorf("unexpected redis component: %+v", got)
	}
	if resp.Components["listener"].Status != "healthy" {
		t.Errorf("listener should stay healthy, got %+v", resp.Components["listener"])
	}
}

func TestHandleHealth_TimeoutMarksSlowProbe(t *testing.T) {
	start := time.Now()
	code, resp := runHealth(t, &mockHealthProbe{name: "database", delay: 10 * time.Second})

	if elapsed := time.Since(start); elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health check took %v, expected to stop near %v", elapsed, healthCheckTimeout)
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if resp.Components["database"].Status != "unhealthy" {
		t.Errorf("expected slow probe to be unhealthy, got %+v", resp.Components["database"])
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, resp := runHealth(t, &mockHealthProbe{name: "listener", panics: true})

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if msg := resp.Components["listener"].Message; msg != "probe panicked: probe exploded" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestHandleHealth_IncludesVersion(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Build.Version = "1.4.0"

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Version != "1.4.0" {
		t.Errorf("expected version 1.4.0, got %q", resp.Version)
	}
}

func TestPingProbe(t *testing.T) {
	ok := PingProbe("redis", stubPinger{})
	if ok.Name() != "redis" {
		t.Errorf("expected name redis, got %q", ok.Name())
	}
	if err := ok.Check(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	down := PingProbe("database", stubPinger{err: errors.New("dial tcp: refused")})
	if err := down.Check(context.Background()); err == nil {
		t.Error("expected ping error to surface")
	}
}

func TestListenerProbe(t *testing.T) {
	if err := ListenerProbe("listener", stubState(true)).Check(context.Background()); err != nil {
		t.Errorf("consuming listener should be healthy, got %v", err)
	}
	if err := ListenerProbe("listener", stubState(false)).Check(context.Background()); err == nil {
		t.Error("reconnecting listener should be unhealthy")
	}
}
