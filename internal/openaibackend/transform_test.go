package openaibackend

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/sse"
)

func TestToConversationRequest(t *testing.T) {
	temp := 0.7
	maxTok := 100
	req := &providers.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []providers.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
		Temperature: &temp,
		MaxTokens:   &maxTok,
	}

	conv := ToConversationRequest(req)
	if conv.Action != "next" {
		t.Errorf("action = %q, want next", conv.Action)
	}
	if conv.Model != "gpt-4o" {
		t.Errorf("model = %q", conv.Model)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	for i, m := range conv.Messages {
		if !strings.HasPrefix(m.ID, "node_") {
			t.Errorf("message %d id %q should carry node_ prefix", i, m.ID)
		}
		if m.Content.ContentType != "text" {
			t.Errorf("message %d content type %q", i, m.Content.ContentType)
		}
	}
	if conv.Messages[0].Role != "system" || conv.Messages[1].Role != "user" {
		t.Error("roles must pass through verbatim")
	}
	if conv.Messages[1].Content.Parts[0] != "hello" {
		t.Errorf("content parts = %v", conv.Messages[1].Content.Parts)
	}
	if *conv.Temperature != 0.7 || *conv.MaxTokens != 100 {
		t.Error("sampling parameters should pass through")
	}
}

func TestToConversationRequest_DistinctMessageIDs(t *testing.T) {
	req := &providers.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []providers.ChatMessage{
			{Role: "user", Content: "a"},
			{Role: "user", Content: "b"},
		},
	}
	conv := ToConversationRequest(req)
	if conv.Messages[0].ID == conv.Messages[1].ID {
		t.Error("each message needs a unique node id")
	}
}

func TestMessageContent_UnmarshalBothForms(t *testing.T) {
	var obj MessageContent
	if err := json.Unmarshal([]byte(`{"content_type":"text","parts":["a","b"]}`), &obj); err != nil {
		t.Fatal(err)
	}
	if obj.Text() != "ab" {
		t.Errorf("parts form: Text() = %q", obj.Text())
	}

	var str MessageContent
	if err := json.Unmarshal([]byte(`"plain"`), &str); err != nil {
		t.Fatal(err)
	}
	if str.Text() != "plain" {
		t.Errorf("string form: Text() = %q", str.Text())
	}
}

func TestChunkFromEvent_Message(t *testing.T) {
	data := `{"message":{"id":"m1","content":{"content_type":"text","parts":["Hel","lo"]}},"conversation_id":"c1"}`
	chunk := ChunkFromEvent(sse.Event{Type: "message", Data: json.RawMessage(data)}, "gpt-4o", "chatcmpl-req1")

	if chunk == nil {
		t.Fatal("expected a chunk")
	}
	if chunk.ID != "chatcmpl-req1" || chunk.Object != "chat.completion.chunk" || chunk.Model != "gpt-4o" {
		t.Errorf("unexpected envelope %+v", chunk)
	}
	if got := *chunk.Choices[0].Delta.Content; got != "Hello" {
		t.Errorf("delta content = %q, want Hello", got)
	}
	if chunk.Choices[0].FinishReason != nil {
		t.Error("message chunks should not carry a finish reason")
	}
}

func TestChunkFromEvent_Done(t *testing.T) {
	chunk := ChunkFromEvent(sse.Event{Type: "done"}, "gpt-4o", "chatcmpl-req1")

	if chunk == nil {
		t.Fatal("expected a chunk")
	}
	if chunk.Choices[0].Delta.Content != nil {
		t.Error("done chunk delta should be empty")
	}
	if fr := chunk.Choices[0].FinishReason; fr == nil || *fr != "stop" {
		t.Errorf("done chunk finish reason = %v, want stop", fr)
	}
}

func TestChunkFromEvent_SkipsOtherEvents(t *testing.T) {
	if ChunkFromEvent(sse.Event{Type: "ping", Data: json.RawMessage(`{}`)}, "gpt-4o", "id") != nil {
		t.Error("non-message events should be skipped")
	}
	if ChunkFromEvent(sse.Event{Type: "message", Data: json.RawMessage(`{"conversation_id":"c"}`)}, "gpt-4o", "id") != nil {
		t.Error("message events without a message body should be skipped")
	}
}
