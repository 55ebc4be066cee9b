package anthropicbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

func chatRequest(model string) *providers.ChatCompletionRequest {
	return &providers.ChatCompletionRequest{
		Model:    model,
		Messages: []providers.ChatMessage{{Role: "user", Content: "hi"}},
	}
}

func chunkLine(content string, finish *string) string {
	chunk := providers.ChatCompletionChunk{
		ID:     "chatcmpl-up",
		Object: "chat.completion.chunk",
		Model:  "claude-3-opus",
		Choices: []providers.ChunkChoice{{
			Index:        0,
			Delta:        providers.ChunkDelta{Content: &content},
			FinishReason: finish,
		}},
	}
	data, _ := json.Marshal(chunk)
	return "data: " + string(data) + "\n\n"
}

func TestSupportsModel(t *testing.T) {
	p := New(Options{})
	if !p.SupportsModel("claude-3-5-sonnet") {
		t.Error("claude models must be supported")
	}
	if p.SupportsModel("gpt-4") || p.SupportsModel("gemini-2.0-flash") {
		t.Error("non claude models must be rejected")
	}
}

func TestExecute_JSONResponse(t *testing.T) {
	var gotPath string
	var gotBody bridgeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(providers.ChatCompletionResponse{
			ID:     "chatcmpl-bridge",
			Object: "chat.completion",
			Model:  "claude-3-opus",
			Choices: []providers.Choice{{
				Message:      providers.ChatMessage{Role: "assistant", Content: "hello"},
				FinishReason: providers.StringPtr("stop"),
			}},
		})
	}))
	defer srv.Close()

	p := New(Options{BridgeURL: srv.URL})
	res, err := p.Execute(context.Background(), chatRequest("claude-3-opus"), "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/anthropic/chat" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Model != "claude-3-opus" || len(gotBody.Messages) != 1 {
		t.Errorf("forwarded body = %+v", gotBody)
	}
	if res.ID != "chatcmpl-bridge" || res.Choices[0].Message.Content != "hello" {
		t.Errorf("response = %+v", res)
	}
}

func TestExecute_SSEResponseCollected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(chunkLine("Hel", nil)))
		w.Write([]byte(chunkLine("lo", providers.StringPtr("stop"))))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := New(Options{BridgeURL: srv.URL})
	res, err := p.Execute(context.Background(), chatRequest("claude-3-opus"), "req-2")
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "chatcmpl-req-2" {
		t.Errorf("id = %q", res.ID)
	}
	if res.Choices[0].Message.Content != "Hello" {
		t.Errorf("content = %q", res.Choices[0].Message.Content)
	}
	if res.Choices[0].FinishReason == nil || *res.Choices[0].FinishReason != "stop" {
		t.Errorf("finish = %v", res.Choices[0].FinishReason)
	}
}

func TestExecute_BridgeErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "anthropic upstream down"})
	}))
	defer srv.Close()

	p := New(Options{BridgeURL: srv.URL})
	_, err := p.Execute(context.Background(), chatRequest("claude-3-opus"), "req-3")

	var perr *providers.Error
	if !errors.As(err, &perr) || perr.Kind != providers.KindUnavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	want := "Anthropic bridge error (status: 502): anthropic upstream down"
	if perr.Message != want {
		t.Errorf("message = %q, want %q", perr.Message, want)
	}
}

func TestExecute_BridgePlainErrorText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(Options{BridgeURL: srv.URL})
	_, err := p.Execute(context.Background(), chatRequest("claude-3-opus"), "req-4")

	var perr *providers.Error
	if !errors.As(err, &perr) || !strings.HasPrefix(perr.Message, "Anthropic bridge HTTP 502:") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestExecute_ConnectionRefused(t *testing.T) {
	p := New(Options{BridgeURL: "http://127.0.0.1:1"})
	_, err := p.Execute(context.Background(), chatRequest("claude-3-opus"), "req-5")

	var perr *providers.Error
	if !errors.As(err, &perr) || perr.Kind != providers.KindNetwork {
		t.Fatalf("expected Network, got %v", err)
	}
}

func TestExecuteStream_ForwardsChunks(t *testing.T) {
	var gotStream bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bridgeRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotStream = body.Stream

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(chunkLine("Hel", nil)))
		w.Write([]byte(chunkLine("lo", providers.StringPtr("stop"))))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := New(Options{BridgeURL: srv.URL})
	frames, err := p.ExecuteStream(context.Background(), chatRequest("claude-3-opus"), "req-6")
	if err != nil {
		t.Fatal(err)
	}

	var text string
	count := 0
	for f := range frames {
		if f.Err != nil {
			t.Fatalf("unexpected frame error: %v", f.Err)
		}
		count++
		var chunk providers.ChatCompletionChunk
		if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
			t.Fatalf("frame %q: %v", f.Data, err)
		}
		// Pass-through keeps the bridge's own chunk ids.
		if chunk.ID != "chatcmpl-up" {
			t.Errorf("chunk id = %q", chunk.ID)
		}
		if c := chunk.Choices[0].Delta.Content; c != nil {
			text += *c
		}
	}
	if !gotStream {
		t.Error("bridge request should carry stream: true")
	}
	if count != 2 {
		t.Errorf("expected 2 chunk frames ([DONE] swallowed), got %d", count)
	}
	if text != "Hello" {
		t.Errorf("assembled text = %q", text)
	}
}

func TestExecuteStream_ErrorBeforeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(Options{BridgeURL: srv.URL})
	_, err := p.ExecuteStream(context.Background(), chatRequest("claude-3-opus"), "req-7")

	var perr *providers.Error
	if !errors.As(err, &perr) || perr.Kind != providers.KindUnavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}
