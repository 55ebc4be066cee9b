// Package openai serves gpt-* models directly against the OpenAI API with
// the official SDK. It is the alternative to the harvester/backend path,
// selected when an OpenAI API key is configured.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	streamBufferSize = 32
)

// Provider implements providers.Provider on the official SDK.
type Provider struct {
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates an OpenAI Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	httpClient := &http.Client{Timeout: providers.StreamTimeout}
	if p.baseURL != "" && p.baseURL != defaultBaseURL {
		httpClient.Transport = newBaseURLTransport(http.DefaultTransport, p.baseURL)
	}

	p.client = openaiSDK.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithHTTPClient(httpClient),
	)

	return p
}

func (p *Provider) ProviderType() string { return providers.ProviderOpenAI }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gpt-")
}

// HealthCheck is a simple auth/connectivity probe: GET /v1/models.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) buildParams(req *providers.ChatCompletionRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}

	if req.Temperature != nil {
		params.Temperature = openaiSDK.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openaiSDK.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openaiSDK.Int(int64(*req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openaiSDK.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Stop,
		}
	}

	return params
}

// Execute performs a unary chat completion.
func (p *Provider) Execute(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (*providers.ChatCompletionResponse, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, toProviderError(err)
	}

	choices := make([]providers.Choice, 0, len(resp.Choices))
	for i, c := range resp.Choices {
		var finish *string
		if c.FinishReason != "" {
			finish = providers.StringPtr(c.FinishReason)
		}
		choices = append(choices, providers.Choice{
			Index: i,
			Message: providers.ChatMessage{
				Role:    "assistant",
				Content: c.Message.Content,
			},
			FinishReason: finish,
		})
	}

	return &providers.ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: choices,
		Usage: &providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// ExecuteStream performs a streaming chat completion and re-frames the
// SDK's chunks onto the gateway chunk shape.
func (p *Provider) ExecuteStream(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (<-chan providers.StreamFrame, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))

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

		for stream.Next() {
			sc := stream.Current()
			if len(sc.Choices) == 0 {
				continue
			}
			c := sc.Choices[0]

			var delta providers.ChunkDelta
			if c.Delta.Content != "" {
				delta.Content = providers.StringPtr(c.Delta.Content)
			}
			var finish *string
			if c.FinishReason != "" {
				finish = providers.StringPtr(c.FinishReason)
			}
			if delta.Content == nil && finish == nil {
				continue
			}

			chunk := &providers.ChatCompletionChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Model:   model,
				Choices: []providers.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if !emit(providers.StreamFrame{Data: string(data)}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			emit(providers.StreamFrame{Err: toProviderError(err)})
		}
	}()

	return frames, nil
}

func toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized:
			return providers.NewAuth(fmt.Sprintf("OpenAI API: %v", apierr))
		case http.StatusTooManyRequests:
			return providers.NewRateLimited(fmt.Sprintf("OpenAI API: %v", apierr))
		}
		return providers.NewHTTP(apierr.StatusCode, fmt.Sprintf("OpenAI API: %v", apierr))
	}
	return providers.NewNetwork(err)
}

// baseURLTransport rewrites request URLs onto a different base. The SDK
// pins its own host, so tests point the provider at a local server this way.
type baseURLTransport struct {
	base *url.URL
	rt   http.RoundTripper
}

func newBaseURLTransport(next http.RoundTripper, base string) http.RoundTripper {
	u, err := url.Parse(base)
	if err != nil {
		return next
	}
	return &baseURLTransport{base: u, rt: next}
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	u2 := *req.URL

	u2.Scheme = t.base.Scheme
	u2.Host = t.base.Host

	basePath := strings.TrimRight(t.base.Path, "/")
	if basePath != "" && basePath != "/" {
		if !strings.HasPrefix(u2.Path, basePath+"/") && u2.Path != basePath {
			u2.Path = basePath + "/" + strings.TrimLeft(u2.Path, "/")
		}
	}

	r2.URL = &u2

	return t.rt.RoundTrip(r2)
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
