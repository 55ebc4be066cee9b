package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/harvester"
)

// fakeHarvester is a scriptable harvester probe.
type fakeHarvester struct {
	health harvester.Health
	err    error
}

func (f *fakeHarvester) HealthCheck(context.Context) (harvester.Health, error) {
	return f.health, f.err
}

func bridgeServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewHealthChecker_PanicsOnNilContext(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil context")
		}
	}()
	NewHealthChecker(nil, nil, "", "1.0.0")
}

func TestHealthChecker_NothingConfigured(t *testing.T) {
	hc := NewHealthChecker(context.Background(), nil, "", "1.0.0")
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "ok" {
		t.Errorf("status = %s, want ok", snap.Status)
	}
	if snap.Harvester != nil || snap.Bridge != nil {
		t.Errorf("unconfigured components must be omitted: %+v", snap)
	}
	if snap.Version != "1.0.0" || snap.Timestamp == "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !hc.Healthy() {
		t.Error("expected healthy")
	}
}

func TestHealthChecker_HarvesterUp(t *testing.T) {
	harv := &fakeHarvester{health: harvester.Health{
		BrowserAlive:     true,
		SessionValid:     true,
		LastTokenRefresh: 1700000000,
	}}
	hc := NewHealthChecker(context.Background(), harv, "", "1.0.0")
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "ok" {
		t.Errorf("status = %s", snap.Status)
	}
	h := snap.Harvester
	if h == nil || !h.Available || !h.BrowserAlive || !h.SessionValid || h.LastTokenRefresh != 1700000000 {
		t.Errorf("harvester status = %+v", h)
	}
}

func TestHealthChecker_HarvesterDown(t *testing.T) {
	harv := &fakeHarvester{err: fmt.Errorf("connection refused")}
	hc := NewHealthChecker(context.Background(), harv, "", "1.0.0")
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "degraded" {
		t.Errorf("status = %s, want degraded", snap.Status)
	}
	if snap.Harvester == nil || snap.Harvester.Available {
		t.Errorf("harvester status = %+v", snap.Harvester)
	}
	if hc.Healthy() {
		t.Error("expected unhealthy")
	}
}

func TestHealthChecker_BridgeUp(t *testing.T) {
	srv := bridgeServer(t, http.StatusOK)

	hc := NewHealthChecker(context.Background(), nil, srv.URL, "1.0.0")
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "ok" {
		t.Errorf("status = %s", snap.Status)
	}
	b := snap.Bridge
	if b == nil || !b.Available || b.URL != srv.URL || b.Error != "" {
		t.Errorf("bridge status = %+v", b)
	}
}

func TestHealthChecker_BridgeErrorStatus(t *testing.T) {
	srv := bridgeServer(t, http.StatusServiceUnavailable)

	hc := NewHealthChecker(context.Background(), nil, srv.URL, "1.0.0")
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Status != "degraded" {
		t.Errorf("status = %s, want degraded", snap.Status)
	}
	if snap.Bridge == nil || snap.Bridge.Available || snap.Bridge.Error == "" {
		t.Errorf("bridge status = %+v", snap.Bridge)
	}
}

func TestHealthChecker_BridgeUnreachable(t *testing.T) {
	hc := NewHealthChecker(context.Background(), nil, "http://127.0.0.1:1", "1.0.0")
	defer hc.Close()

	snap := hc.Snapshot()
	if snap.Bridge == nil || snap.Bridge.Available || snap.Bridge.Error == "" {
		t.Errorf("bridge status = %+v", snap.Bridge)
	}
}

func TestHealthChecker_TrailingSlashTrimmed(t *testing.T) {
	srv := bridgeServer(t, http.StatusOK)

	hc := NewHealthChecker(context.Background(), nil, srv.URL+"/", "1.0.0")
	defer hc.Close()

	if snap := hc.Snapshot(); snap.Bridge == nil || !snap.Bridge.Available {
		t.Errorf("bridge status = %+v", snap.Bridge)
	}
}

func TestHealthChecker_CloseIsIdempotent(t *testing.T) {
	hc := NewHealthChecker(context.Background(), nil, "", "1.0.0")
	hc.Close()
	hc.Close()
}
