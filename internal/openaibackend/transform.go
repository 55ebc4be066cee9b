package openaibackend

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/sse"
)

// ConversationRequest is the backend's conversation wire format.
type ConversationRequest struct {
	Action          string                `json:"action"`
	Messages        []ConversationMessage `json:"messages"`
	Model           string                `json:"model"`
	ParentMessageID *string               `json:"parent_message_id,omitempty"`
	ConversationID  *string               `json:"conversation_id,omitempty"`
	Temperature     *float64              `json:"temperature,omitempty"`
	MaxTokens       *int                  `json:"max_tokens,omitempty"`
}

// ConversationMessage is one message in a ConversationRequest.
type ConversationMessage struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the backend's content envelope. Responses sometimes
// carry a bare string instead of the parts form.
type MessageContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// UnmarshalJSON accepts both the {content_type, parts} object and a plain
// string.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.ContentType = "text"
		c.Parts = []string{s}
		return nil
	}

	type alias MessageContent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = MessageContent(a)
	return nil
}

// Text joins the content parts into one string.
func (c MessageContent) Text() string {
	return strings.Join(c.Parts, "")
}

// messagePayload is the part of a backend "message" event we care about.
type messagePayload struct {
	Message *struct {
		ID      string         `json:"id"`
		Role    *string        `json:"role"`
		Content MessageContent `json:"content"`
	} `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

// ToConversationRequest maps an OpenAI-shaped chat request onto the
// backend's conversation format. Roles pass through verbatim; each message
// gets a fresh node id.
func ToConversationRequest(req *providers.ChatCompletionRequest) ConversationRequest {
	msgs := make([]ConversationMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ConversationMessage{
			ID:   "node_" + uuid.NewString(),
			Role: m.Role,
			Content: MessageContent{
				ContentType: "text",
				Parts:       []string{m.Content},
			},
		})
	}

	return ConversationRequest{
		Action:      "next",
		Messages:    msgs,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// ChunkFromEvent converts one parsed backend SSE event into an OpenAI
// chunk. The synthetic "done" event becomes an empty delta with
// finish_reason "stop"; "message" events carry the joined content parts;
// everything else is skipped (nil).
func ChunkFromEvent(ev sse.Event, model, id string) *providers.ChatCompletionChunk {
	created := time.Now().Unix()

	if ev.Type == "done" {
		return &providers.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []providers.ChunkChoice{{
				Index:        0,
				Delta:        providers.ChunkDelta{},
				FinishReason: providers.StringPtr("stop"),
			}},
		}
	}

	if ev.Type != "message" {
		return nil
	}

	var payload messagePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Message == nil {
		return nil
	}

	return &providers.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []providers.ChunkChoice{{
			Index: 0,
			Delta: providers.ChunkDelta{
				Content: providers.StringPtr(payload.Message.Content.Text()),
			},
		}},
	}
}
