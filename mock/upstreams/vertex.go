package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// newVertexHandler simulates the generateContent family of endpoints.  It
// accepts both URL shapes the gateway builds:
//
//	/v1beta/models/{model}:{method}?key=...                          (API key)
//	/v1/projects/{p}/locations/{l}/publishers/google/models/{model}:{method}  (OAuth)
//
// Streaming requests (method streamGenerateContent with alt=sse) get an SSE
// stream of partial GenerateContentResponse objects; the Gemini wire format
// has no [DONE] sentinel, the stream just ends after the STOP candidate.
func newVertexHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}

		model, method, ok := splitModelCall(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
			return
		}

		// OAuth requests carry a bearer header, API-key requests a key query.
		if r.URL.Query().Get("key") == "" && r.Header.Get("Authorization") == "" {
			writeError(w, http.StatusUnauthorized, "missing API key or bearer token", "unauthenticated")
			return
		}

		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock vertex error", "server_error")
			return
		}

		var req struct {
			Contents []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Contents) == 0 {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
			return
		}

		content := fakeSentence(cfg.StreamWords)

		switch method {
		case "streamGenerateContent":
			serveVertexStream(w, content, cfg.StreamWords)
		case "generateContent":
			writeJSON(w, http.StatusOK, generateContentBody(content, "STOP", cfg.StreamWords, true))
		default:
			writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown method %s for model %s", method, model), "not_found")
		}
	})

	return mux
}

// splitModelCall extracts "model" and "method" from a path ending in
// .../models/{model}:{method}.
func splitModelCall(path string) (model, method string, ok bool) {
	i := strings.LastIndex(path, "/models/")
	if i < 0 {
		return "", "", false
	}
	call := path[i+len("/models/"):]
	model, method, ok = strings.Cut(call, ":")
	if !ok || model == "" || method == "" {
		return "", "", false
	}
	return model, method, true
}

// generateContentBody builds one GenerateContentResponse object.  Usage is
// only attached to the final object, matching upstream behaviour.
func generateContentBody(text, finishReason string, outTokens int, withUsage bool) map[string]any {
	candidate := map[string]any{
		"content": map[string]any{
			"role":  "model",
			"parts": []map[string]string{{"text": text}},
		},
		"index": 0,
	}
	if finishReason != "" {
		candidate["finishReason"] = finishReason
	}

	body := map[string]any{
		"candidates": []map[string]any{candidate},
	}
	if withUsage {
		body["usageMetadata"] = map[string]int{
			"promptTokenCount":     10,
			"candidatesTokenCount": outTokens,
			"totalTokenCount":      10 + outTokens,
		}
	}
	return body
}

// serveVertexStream writes partial GenerateContentResponse objects as SSE.
func serveVertexStream(w http.ResponseWriter, content string, outTokens int) {
	flusher := sseHeaders(w)

	words := strings.Fields(content)
	for i, word := range words {
		finish := ""
		withUsage := false
		if i == len(words)-1 {
			finish = "STOP"
			withUsage = true
		}
		data, _ := json.Marshal(generateContentBody(word+" ", finish, outTokens, withUsage))
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}
