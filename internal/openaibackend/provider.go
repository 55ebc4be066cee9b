package openaibackend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/harvester"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/sse"
)

const streamBufferSize = 32

// Provider serves gpt-* models. Models on the gpt-4 tier additionally
// require an arkose token from the harvester.
type Provider struct {
	client    *Client
	harvester *harvester.Client
	metrics   *metrics.Collector
}

// NewProvider wires the backend client, the harvester and the metrics
// collector into a Provider.
func NewProvider(client *Client, h *harvester.Client, m *metrics.Collector) *Provider {
	return &Provider{client: client, harvester: h, metrics: m}
}

func (p *Provider) ProviderType() string { return providers.ProviderOpenAI }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gpt-")
}

// Execute drains the streaming backend response into a single completion:
// content deltas concatenated, last observed finish_reason kept.
func (p *Provider) Execute(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (*providers.ChatCompletionResponse, error) {
	frames, err := p.ExecuteStream(ctx, req, requestID)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	var finishReason *string

	for frame := range frames {
		if frame.Err != nil {
			return nil, frame.Err
		}
		var chunk providers.ChatCompletionChunk
		if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != nil {
				content.WriteString(*choice.Delta.Content)
			}
			if choice.FinishReason != nil {
				finishReason = choice.FinishReason
			}
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
			FinishReason: finishReason,
		}},
	}, nil
}

// ExecuteStream fetches tokens, posts the conversation request and emits
// OpenAI chunks parsed out of the backend's SSE stream.
func (p *Provider) ExecuteStream(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (<-chan providers.StreamFrame, error) {
	requiresArkose := strings.HasPrefix(req.Model, "gpt-4")

	tokenStart := time.Now()
	tokens, err := p.harvester.GetTokens(ctx, requiresArkose)
	if err != nil {
		return nil, err
	}
	if requiresArkose && tokens.ArkoseToken != nil {
		p.metrics.RecordArkoseSolve(time.Since(tokenStart))
	}

	resp, err := p.client.Send(ctx, ToConversationRequest(req), tokens.AccessToken, tokens.ArkoseToken)
	if err != nil {
		var perr *providers.Error
		if errors.As(err, &perr) && perr.Kind == providers.KindWAFBlocked {
			// Fire-and-forget so the error return is never delayed by
			// the metrics lock.
			go p.metrics.RecordWAFBlock()
		}
		return nil, err
	}

	frames := make(chan providers.StreamFrame, streamBufferSize)
	id := "chatcmpl-" + requestID

	go func() {
		defer close(frames)
		defer resp.Body.Close()

		parser := sse.NewParser()
		buf := make([]byte, 4096)

		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				for _, ev := range parser.Feed(buf[:n]) {
					chunk := ChunkFromEvent(ev, req.Model, id)
					if chunk == nil {
						continue
					}
					data, err := json.Marshal(chunk)
					if err != nil {
						slog.Warn("backend_chunk_encode_failed", slog.String("error", err.Error()))
						continue
					}
					select {
					case frames <- providers.StreamFrame{Data: string(data)}:
					case <-ctx.Done():
						return
					}
					if ev.Type == "done" {
						return
					}
				}
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, context.Canceled) {
					select {
					case frames <- providers.StreamFrame{Err: providers.NewNetwork(readErr)}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	return frames, nil
}
