package proxy

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/harvester"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
	bridgeProbeTimeout  = 2 * time.Second
)

// harvesterProbe is the slice of harvester.Client the checker needs.
type harvesterProbe interface {
	HealthCheck(ctx context.Context) (harvester.Health, error)
}

// HarvesterStatus is the harvester section of the health payload.
type HarvesterStatus struct {
	Available        bool  `json:"available"`
	BrowserAlive     bool  `json:"browser_alive"`
	SessionValid     bool  `json:"session_valid"`
	LastTokenRefresh int64 `json:"last_token_refresh"`
}

// BridgeStatus is the anthropic_bridge section of the health payload.
type BridgeStatus struct {
	Available bool   `json:"available"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthSnapshot is the GET /health response body.
type HealthSnapshot struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Timestamp string           `json:"timestamp"`
	Harvester *HarvesterStatus `json:"harvester,omitempty"`
	Bridge    *BridgeStatus    `json:"anthropic_bridge,omitempty"`
}

// HealthChecker probes the token harvester and the Anthropic bridge in the
// background and serves the latest results. Components that are not
// configured are omitted from the snapshot and do not degrade overall
// health.
type HealthChecker struct {
	harvester harvesterProbe
	bridgeURL string
	client    *http.Client
	version   string
	baseCtx   context.Context

	mu              sync.RWMutex
	harvesterStatus *HarvesterStatus
	bridgeStatus    *BridgeStatus

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and starts its probe loop. harv
// may be nil and bridgeURL may be empty when the corresponding sidecar is
// not part of the deployment.
func NewHealthChecker(ctx context.Context, harv harvesterProbe, bridgeURL, version string) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		harvester: harv,
		bridgeURL: strings.TrimSuffix(bridgeURL, "/"),
		client:    &http.Client{Timeout: bridgeProbeTimeout},
		version:   version,
		baseCtx:   ctx,
		done:      make(chan struct{}),
	}

	// First probe runs synchronously so /health is accurate immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// Snapshot returns the latest probe results plus a fresh timestamp.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	hc.mu.RLock()
	harv := hc.harvesterStatus
	bridge := hc.bridgeStatus
	hc.mu.RUnlock()

	status := "ok"
	if (harv != nil && !harv.Available) || (bridge != nil && !bridge.Available) {
		status = "degraded"
	}

	return HealthSnapshot{
		Status:    status,
		Version:   hc.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Harvester: harv,
		Bridge:    bridge,
	}
}

// Healthy reports whether every configured component is available.
func (hc *HealthChecker) Healthy() bool {
	return hc.Snapshot().Status == "ok"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() {
		close(hc.done)
	})
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		case <-hc.baseCtx.Done():
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup

	if hc.harvester != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := &HarvesterStatus{}
			if h, err := hc.harvester.HealthCheck(ctx); err == nil {
				st.Available = true
				st.BrowserAlive = h.BrowserAlive
				st.SessionValid = h.SessionValid
				st.LastTokenRefresh = h.LastTokenRefresh
			}
			hc.mu.Lock()
			hc.harvesterStatus = st
			hc.mu.Unlock()
		}()
	}

	if hc.bridgeURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := hc.probeBridge(ctx)
			hc.mu.Lock()
			hc.bridgeStatus = st
			hc.mu.Unlock()
		}()
	}

	wg.Wait()
}

func (hc *HealthChecker) probeBridge(ctx context.Context) *BridgeStatus {
	st := &BridgeStatus{URL: hc.bridgeURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.bridgeURL+"/health", nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	resp, err := hc.client.Do(req)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		st.Available = true
	} else {
		st.Error = "bridge returned HTTP " + resp.Status
	}
	return st
}
