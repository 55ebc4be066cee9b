package vertex

import (
	"strings"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// ToGenerateContentRequest maps an OpenAI-shaped chat request onto the
// generateContent format. Roles map user→user, assistant→model, tool→user.
// The first system message becomes the system_instruction and is dropped
// from contents; any further system messages fall back to user role.
func ToGenerateContentRequest(req *providers.ChatCompletionRequest) GenerateContentRequest {
	var systemInstruction *Content
	contents := make([]Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == "system" && systemInstruction == nil {
			systemInstruction = &Content{
				Role:  "user",
				Parts: []Part{{Text: m.Content}},
			}
			continue
		}

		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, Content{
			Role:  role,
			Parts: []Part{{Text: m.Content}},
		})
	}

	one := 1
	cfg := &GenerationConfig{
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		CandidateCount: &one,
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}

	return GenerateContentRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
		GenerationConfig:  cfg,
	}
}

// ResponseFromVertex converts a unary generateContent response. The first
// candidate must carry text; anything else is an internal error since the
// upstream contract guarantees at least one text part on success.
func ResponseFromVertex(res *GenerateContentResponse, model, id string) (*providers.ChatCompletionResponse, error) {
	if len(res.Candidates) == 0 {
		return nil, providers.NewInternal("Vertex response has no candidates", nil)
	}

	choices := make([]providers.Choice, 0, len(res.Candidates))
	for i, c := range res.Candidates {
		text, ok := candidateText(c)
		if !ok {
			return nil, providers.NewInternal("Vertex candidate has no text part", nil)
		}

		var finish *string
		if c.FinishReason != "" {
			finish = providers.StringPtr(strings.ToLower(c.FinishReason))
		}
		choices = append(choices, providers.Choice{
			Index: i,
			Message: providers.ChatMessage{
				Role:    "assistant",
				Content: text,
			},
			FinishReason: finish,
		})
	}

	var usage *providers.Usage
	if res.UsageMetadata != nil {
		usage = &providers.Usage{
			PromptTokens:     res.UsageMetadata.PromptTokenCount,
			CompletionTokens: res.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      res.UsageMetadata.TotalTokenCount,
		}
	}

	return &providers.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: choices,
		Usage:   usage,
	}, nil
}

// ChunkFromVertex converts one streaming generateContent object into an
// OpenAI chunk. The delta carries only content; finish_reason is
// lowercased when present.
func ChunkFromVertex(res *GenerateContentResponse, model, id string) *providers.ChatCompletionChunk {
	choices := make([]providers.ChunkChoice, 0, len(res.Candidates))
	for i, c := range res.Candidates {
		var delta providers.ChunkDelta
		if text, ok := candidateText(c); ok {
			delta.Content = providers.StringPtr(text)
		}

		var finish *string
		if c.FinishReason != "" {
			finish = providers.StringPtr(strings.ToLower(c.FinishReason))
		}
		choices = append(choices, providers.ChunkChoice{
			Index:        i,
			Delta:        delta,
			FinishReason: finish,
		})
	}

	return &providers.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: choices,
	}
}

func candidateText(c Candidate) (string, bool) {
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return "", false
	}
	return c.Content.Parts[0].Text, true
}
