// Package anthropicbridge serves claude-* models through an internal
// HTTP bridge process. The bridge speaks the Anthropic protocol upstream
// and exposes OpenAI-style responses downstream, so this provider is a
// thin pass-through.
package anthropicbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/sse"
)

const (
	// DefaultBridgeURL is where the bridge process listens locally.
	DefaultBridgeURL = "http://localhost:4001"

	requestTimeout   = 60 * time.Second
	streamBufferSize = 32
)

// Options configures a Provider. Zero values fall back to defaults.
type Options struct {
	BridgeURL  string
	HTTPClient *http.Client
}

// Provider forwards chat requests to the bridge.
type Provider struct {
	baseURL string
	http    *http.Client
}

// New creates a bridge provider.
func New(opts Options) *Provider {
	baseURL := opts.BridgeURL
	if baseURL == "" {
		baseURL = DefaultBridgeURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Provider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    client,
	}
}

func (p *Provider) ProviderType() string { return providers.ProviderAnthropic }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

type bridgeRequest struct {
	Model    string                  `json:"model"`
	Messages []providers.ChatMessage `json:"messages"`
	Stream   bool                    `json:"stream,omitempty"`
}

type bridgeError struct {
	Error string `json:"error"`
}

func (p *Provider) send(ctx context.Context, req *providers.ChatCompletionRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(bridgeRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, providers.NewInternal("encode bridge request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/anthropic/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewInternal("build bridge request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, providers.NewNetwork(fmt.Errorf("Anthropic bridge request failed: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		var be bridgeError
		if json.Unmarshal(text, &be) == nil && be.Error != "" {
			return nil, providers.Unavailablef("Anthropic bridge error (status: %d): %s", resp.StatusCode, be.Error)
		}
		return nil, providers.Unavailablef("Anthropic bridge HTTP %d: %s", resp.StatusCode, text)
	}

	return resp, nil
}

// Execute performs a unary call. The bridge may answer with a plain JSON
// completion or with an SSE stream; both are normalized here.
func (p *Provider) Execute(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (*providers.ChatCompletionResponse, error) {
	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var out providers.ChatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, providers.NewInternal("parse bridge response", err)
		}
		if out.ID == "" {
			out.ID = "chatcmpl-" + requestID
		}
		return &out, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.NewNetwork(fmt.Errorf("read bridge stream: %w", err))
	}

	var content strings.Builder
	var finish *string
	parser := sse.NewParser()
	for _, ev := range parser.Feed(body) {
		if ev.Type != "message" {
			continue
		}
		var chunk providers.ChatCompletionChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		if c := chunk.Choices[0].Delta.Content; c != nil {
			content.WriteString(*c)
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil {
			finish = fr
		}
	}

	return &providers.ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []providers.Choice{{
			Index: 0,
			Message: providers.ChatMessage{
				Role:    "assistant",
				Content: content.String(),
			},
			FinishReason: finish,
		}},
	}, nil
}

// ExecuteStream forwards the bridge's SSE payloads as-is. The bridge
// already emits OpenAI chunk objects, so no per-chunk transformation is
// applied; the [DONE] sentinel is swallowed since the caller writes its
// own terminal marker.
func (p *Provider) ExecuteStream(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (<-chan providers.StreamFrame, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	frames := make(chan providers.StreamFrame, streamBufferSize)

	go func() {
		defer close(frames)
		defer resp.Body.Close()

		emit := func(f providers.StreamFrame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		parser := sse.NewParser()
		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				for _, ev := range parser.Feed(buf[:n]) {
					if ev.Type == "done" {
						return
					}
					if !emit(providers.StreamFrame{Data: string(ev.Data)}) {
						return
					}
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					slog.Error("anthropic_bridge_stream_error", slog.String("error", readErr.Error()))
					emit(providers.StreamFrame{Err: providers.NewNetwork(fmt.Errorf("stream-error: %w", readErr))})
				}
				return
			}
		}
	}()

	return frames, nil
}
