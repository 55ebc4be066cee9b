package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

// newBackendHandler simulates the upstream conversation API.  The real
// endpoint is a single POST URL; it answers every request with an SSE
// stream of "message" events followed by the [DONE] sentinel.  Requests
// without a Bearer token get a 401 and requests with a synthetic-looking
// User-Agent get the WAF treatment (403), so the gateway's auth and WAF
// error paths can be exercised end to end.
func newBackendHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= len("Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing access token", "unauthorized")
			return
		}
		if ua := r.Header.Get("User-Agent"); ua == "" || strings.Contains(ua, "Go-http-client") {
			writeError(w, http.StatusForbidden, "blocked by WAF", "waf_blocked")
			return
		}

		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock backend error", "server_error")
			return
		}

		var req struct {
			Action   string `json:"action"`
			Model    string `json:"model"`
			Messages []struct {
				ID      string `json:"id"`
				Role    string `json:"role"`
				Content struct {
					ContentType string   `json:"content_type"`
					Parts       []string `json:"parts"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
			return
		}

		serveConversationStream(w, cfg, req.Model)
	})

	return mux
}

// serveConversationStream emits one "message" event per word plus the
// terminal [DONE] sentinel.
func serveConversationStream(w http.ResponseWriter, cfg Config, model string) {
	flusher := sseHeaders(w)

	convID := fmt.Sprintf("conv-mock%x", rand.Int64())
	msgID := fmt.Sprintf("msg-mock%x", rand.Int64())
	role := "assistant"

	for _, word := range strings.Fields(fakeSentence(cfg.StreamWords)) {
		payload := map[string]any{
			"message": map[string]any{
				"id":   msgID,
				"role": role,
				"content": map[string]any{
					"content_type": "text",
					"parts":        []string{word + " "},
				},
			},
			"conversation_id": convID,
		}
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
