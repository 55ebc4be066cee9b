// Package anthropic serves claude-* models directly against the Anthropic
// API with the official SDK. It is the alternative to the bridge provider,
// selected when an Anthropic API key is configured.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultMaxTokens = 4096
	streamBufferSize = 32
)

// Provider implements providers.Provider on the official SDK.
type Provider struct {
	apiKey  string
	baseURL string
	client  anthropic.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates an Anthropic Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	httpClient := &http.Client{Timeout: providers.StreamTimeout}

	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(httpClient),
	)

	return p
}

func (p *Provider) ProviderType() string { return providers.ProviderAnthropic }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// HealthCheck is a simple auth/connectivity probe: GET /v1/models.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toProviderError(err))
	}
	return nil
}

// buildParams maps the OpenAI-shaped request onto MessageNewParams. System
// messages are concatenated into the system prompt since the Anthropic API
// keeps them out of the message list.
func (p *Provider) buildParams(req *providers.ChatCompletionRequest) anthropic.MessageNewParams {
	var systemPrompt string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	anthRole := anthropic.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		anthRole = anthropic.MessageParamRoleAssistant
	}

	return anthropic.MessageParam{
		Role: anthRole,
		Content: []anthropic.ContentBlockParamUnion{
			{
				OfText: &anthropic.TextBlockParam{
					Text: content,
				},
			},
		},
	}
}

// Execute performs a unary messages call.
func (p *Provider) Execute(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (*providers.ChatCompletionResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	var finish *string
	if msg.StopReason != "" {
		finish = providers.StringPtr(finishReason(msg.StopReason))
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
				Content: sb.String(),
			},
			FinishReason: finish,
		}},
		Usage: &providers.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// ExecuteStream performs a streaming messages call and re-frames text
// deltas as OpenAI chunks.
func (p *Provider) ExecuteStream(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (<-chan providers.StreamFrame, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	frames := make(chan providers.StreamFrame, streamBufferSize)
	id := "chatcmpl-" + requestID
	model := req.Model

	go func() {
		defer close(frames)

		emit := func(f providers.StreamFrame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		emitChunk := func(delta providers.ChunkDelta, finish *string) bool {
			chunk := &providers.ChatCompletionChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Model:   model,
				Choices: []providers.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				return true
			}
			return emit(providers.StreamFrame{Data: string(data)})
		}

		for stream.Next() {
			ev := stream.Current()

			switch eventVariant := ev.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text != "" {
						if !emitChunk(providers.ChunkDelta{Content: providers.StringPtr(deltaVariant.Text)}, nil) {
							return
						}
					}
				case *anthropic.TextDelta:
					if deltaVariant.Text != "" {
						if !emitChunk(providers.ChunkDelta{Content: providers.StringPtr(deltaVariant.Text)}, nil) {
							return
						}
					}
				}
			case anthropic.MessageDeltaEvent:
				if eventVariant.Delta.StopReason != "" {
					if !emitChunk(providers.ChunkDelta{}, providers.StringPtr(finishReason(anthropic.StopReason(eventVariant.Delta.StopReason)))) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			emit(providers.StreamFrame{Err: toProviderError(err)})
		}
	}()

	return frames, nil
}

// finishReason maps Anthropic stop reasons onto OpenAI finish reasons.
func finishReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonMaxTokens:
		return "length"
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	}
	return string(r)
}

func toProviderError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized:
			return providers.NewAuth(fmt.Sprintf("Anthropic API: %v", apierr))
		case http.StatusTooManyRequests:
			return providers.NewRateLimited(fmt.Sprintf("Anthropic API: %v", apierr))
		}
		return providers.NewHTTP(apierr.StatusCode, fmt.Sprintf("Anthropic API: %v", apierr))
	}
	return providers.NewNetwork(err)
}
