package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// SDKProvider is an alternative Vertex transport built on the official
// GenAI SDK instead of raw REST. Selected via vertex.transport=sdk; the
// wire behavior (routing, chunk shape) matches the REST Provider.
type SDKProvider struct {
	client *genai.Client
}

// SDKConfig selects the SDK backend: API-key mode talks to the Gemini API,
// project/region mode talks to Vertex AI.
type SDKConfig struct {
	APIKey    string
	ProjectID string
	Region    string
}

// NewSDK creates an SDKProvider.
func NewSDK(ctx context.Context, cfg SDKConfig) (*SDKProvider, error) {
	var cc *genai.ClientConfig
	if cfg.APIKey != "" {
		cc = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	} else {
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.ProjectID,
			Location: cfg.Region,
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("vertex: create genai client: %w", err)
	}
	return &SDKProvider{client: client}, nil
}

func (p *SDKProvider) ProviderType() string { return providers.ProviderVertex }

func (p *SDKProvider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gemini-")
}

func (p *SDKProvider) buildContents(req *providers.ChatCompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	cfg := &genai.GenerateContentConfig{CandidateCount: 1}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if cfg.SystemInstruction == nil {
				cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
				continue
			}
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr[float32](float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = genai.Ptr[float32](float32(*req.TopP))
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}

	return contents, cfg
}

// Execute performs a unary generation through the SDK.
func (p *SDKProvider) Execute(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (*providers.ChatCompletionResponse, error) {
	contents, cfg := p.buildContents(req)

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, providers.Unavailablef("Vertex API Error (model: %s, request_id: %s): %v", req.Model, requestID, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, providers.NewInternal("Vertex response has no candidates", nil)
	}

	c := resp.Candidates[0]
	var finish *string
	if c.FinishReason != "" {
		finish = providers.StringPtr(strings.ToLower(string(c.FinishReason)))
	}

	var usage *providers.Usage
	if resp.UsageMetadata != nil {
		usage = &providers.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
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
				Content: resp.Text(),
			},
			FinishReason: finish,
		}},
		Usage: usage,
	}, nil
}

// ExecuteStream performs a streaming generation through the SDK.
func (p *SDKProvider) ExecuteStream(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (<-chan providers.StreamFrame, error) {
	contents, cfg := p.buildContents(req)

	frames := make(chan providers.StreamFrame, streamBufferSize)
	id := "chatcmpl-" + requestID
	model := req.Model

	go func() {
		defer close(frames)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				frames <- providers.StreamFrame{
					Err: providers.Unavailablef("Vertex stream error (model: %s, request_id: %s): %v", model, requestID, err),
				}
				return
			}
			if resp == nil || len(resp.Candidates) == 0 {
				continue
			}

			c := resp.Candidates[0]
			var delta providers.ChunkDelta
			if text := resp.Text(); text != "" {
				delta.Content = providers.StringPtr(text)
			}
			var finish *string
			if c.FinishReason != "" {
				finish = providers.StringPtr(strings.ToLower(string(c.FinishReason)))
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
			select {
			case frames <- providers.StreamFrame{Data: string(data)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return frames, nil
}
