package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"
)

// newHarvesterHandler simulates the token-harvester sidecar: GET /tokens,
// POST /refresh, and GET /health.  Every response carries a fresh access
// token; arkose tokens are included on refresh with force_arkose and on
// every other plain fetch, so both cache paths in the gateway get
// exercised.
func newHarvesterHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	var fetches atomic.Int64
	var lastRefresh atomic.Int64
	lastRefresh.Store(time.Now().Unix())

	mintToken := func(withArkose bool) map[string]any {
		resp := map[string]any{
			"access_token": fmt.Sprintf("mock-access-%x", rand.Int64()),
			"expires_at":   time.Now().Add(time.Hour).Unix(),
		}
		if withArkose {
			resp["arkose_token"] = fmt.Sprintf("mock-arkose-%x", rand.Int64())
		}
		return resp
	}

	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock harvester error", "server_error")
			return
		}

		n := fetches.Add(1)
		lastRefresh.Store(time.Now().Unix())
		writeJSON(w, http.StatusOK, mintToken(n%2 == 0))
	})

	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock harvester error", "server_error")
			return
		}

		var req struct {
			ForceArkose bool `json:"force_arkose"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		lastRefresh.Store(time.Now().Unix())
		writeJSON(w, http.StatusOK, mintToken(req.ForceArkose))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"browser_alive":      true,
			"session_valid":      true,
			"last_token_refresh": lastRefresh.Load(),
		})
	})

	return mux
}
