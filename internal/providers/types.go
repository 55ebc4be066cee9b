package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Valid chat message roles.
var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// ChatMessage is a single turn in a conversation.
//
// On the wire "content" accepts either a plain string or an array of parts;
// array parts may be bare strings or objects carrying a "text" field. Parts
// are joined with newlines during decoding so the rest of the pipeline only
// ever sees a string.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Name    string          `json:"name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	content, err := decodeContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = raw.Role
	m.Content = content
	m.Name = raw.Name
	return nil
}

// decodeContent normalizes the flexible "content" field to a string.
func decodeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content must be a string or an array of parts")
	}

	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		var text string
		if err := json.Unmarshal(p, &text); err == nil {
			texts = append(texts, text)
			continue
		}
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p, &obj); err == nil {
			texts = append(texts, obj.Text)
			continue
		}
		return "", fmt.Errorf("content part must be a string or an object with a 'text' field")
	}
	return strings.Join(texts, "\n"), nil
}

// StringOrList accepts a bare string, an array of strings, or null on the
// wire and normalizes all three to a string slice.
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = nil
		return nil
	}

	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = StringOrList{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("stop must be a string or an array of strings")
	}
	*s = StringOrList(many)
	return nil
}

// ChatCompletionRequest mirrors the OpenAI POST /v1/chat/completions body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        StringOrList  `json:"stop,omitempty"`
}

// TemperatureValue returns the declared temperature or the default 1.0.
func (r *ChatCompletionRequest) TemperatureValue() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return 1.0
}

// TopPValue returns the declared top_p or the default 1.0.
func (r *ChatCompletionRequest) TopPValue() float64 {
	if r.TopP != nil {
		return *r.TopP
	}
	return 1.0
}

// Validate checks all request invariants. Violations return an
// InvalidRequest error; nothing is sent upstream on failure.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return NewInvalidRequest("field 'model' is required")
	}
	if len(r.Messages) == 0 {
		return NewInvalidRequest("field 'messages' must not be empty")
	}
	for i, m := range r.Messages {
		if !validRoles[m.Role] {
			return NewInvalidRequest(fmt.Sprintf(
				"messages[%d]: invalid role %q; must be one of: system, user, assistant, tool", i, m.Role))
		}
	}
	if t := r.TemperatureValue(); t < 0 || t > 2 {
		return NewInvalidRequest(fmt.Sprintf("temperature must be in [0, 2], got %g", t))
	}
	if p := r.TopPValue(); p < 0 || p > 1 {
		return NewInvalidRequest(fmt.Sprintf("top_p must be in [0, 1], got %g", p))
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return NewInvalidRequest(fmt.Sprintf("max_tokens must be positive, got %d", *r.MaxTokens))
	}
	return nil
}

// Usage — token usage stats in OpenAI shape.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion choice of a unary response.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason *string     `json:"finish_reason"`
}

// ChatCompletionResponse is the OpenAI-shaped unary response envelope.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// ChunkDelta carries the incremental fields of one streaming chunk.
type ChunkDelta struct {
	Role    *string `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChunkChoice is one choice of a streaming chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is one frame of a streaming response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// StringPtr returns a pointer to s. Small helper for optional wire fields.
func StringPtr(s string) *string { return &s }
