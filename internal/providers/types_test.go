package providers

import (
	"encoding/json"
	"testing"
)

func TestChatMessage_ContentString(t *testing.T) {
	var m ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" {
		t.Errorf("expected 'hello', got %q", m.Content)
	}
}

func TestChatMessage_ContentPartsArray(t *testing.T) {
	raw := `{"role":"user","content":[{"type":"text","text":"part one"},{"text":"part two"}]}`
	var m ChatMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "part one\npart two" {
		t.Errorf("expected joined parts, got %q", m.Content)
	}
}

func TestChatMessage_ContentBareStringArray(t *testing.T) {
	var m ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":["a","b"]}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "a\nb" {
		t.Errorf("expected 'a\\nb', got %q", m.Content)
	}
}

func TestChatMessage_ContentNull(t *testing.T) {
	var m ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"assistant","content":null}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "" {
		t.Errorf("expected empty content, got %q", m.Content)
	}
}

func TestChatMessage_ContentInvalid(t *testing.T) {
	var m ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &m); err == nil {
		t.Error("numeric content should be rejected")
	}
}

func TestStringOrList(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{`"END"`, []string{"END"}},
		{`["a","b"]`, []string{"a", "b"}},
		{`null`, nil},
	}

	for _, c := range cases {
		var s StringOrList
		if err := json.Unmarshal([]byte(c.raw), &s); err != nil {
			t.Fatalf("unmarshal %s: %v", c.raw, err)
		}
		if len(s) != len(c.want) {
			t.Errorf("%s: expected %d entries, got %d", c.raw, len(c.want), len(s))
			continue
		}
		for i := range s {
			if s[i] != c.want[i] {
				t.Errorf("%s: entry %d = %q, want %q", c.raw, i, s[i], c.want[i])
			}
		}
	}
}

func TestChatCompletionRequest_Defaults(t *testing.T) {
	var req ChatCompletionRequest
	raw := `{"model":"gemini-2.0-flash","messages":[{"role":"user","content":"hi"}]}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}
	if req.TemperatureValue() != 1.0 {
		t.Errorf("default temperature should be 1.0, got %g", req.TemperatureValue())
	}
	if req.TopPValue() != 1.0 {
		t.Errorf("default top_p should be 1.0, got %g", req.TopPValue())
	}
	if req.Stream {
		t.Error("default stream should be false")
	}
}

func TestChatCompletionRequest_Validate(t *testing.T) {
	temp := func(v float64) *float64 { return &v }
	maxTok := func(v int) *int { return &v }

	userMsg := []ChatMessage{{Role: "user", Content: "hi"}}

	cases := []struct {
		name    string
		req     ChatCompletionRequest
		wantErr bool
	}{
		{"valid", ChatCompletionRequest{Model: "gemini-2.0-flash", Messages: userMsg}, false},
		{"missing model", ChatCompletionRequest{Messages: userMsg}, true},
		{"empty messages", ChatCompletionRequest{Model: "m"}, true},
		{"bad role", ChatCompletionRequest{Model: "m", Messages: []ChatMessage{{Role: "robot"}}}, true},
		{"temperature too high", ChatCompletionRequest{Model: "m", Messages: userMsg, Temperature: temp(3.0)}, true},
		{"temperature boundary", ChatCompletionRequest{Model: "m", Messages: userMsg, Temperature: temp(2.0)}, false},
		{"negative temperature", ChatCompletionRequest{Model: "m", Messages: userMsg, Temperature: temp(-0.1)}, true},
		{"top_p too high", ChatCompletionRequest{Model: "m", Messages: userMsg, TopP: temp(1.5)}, true},
		{"zero max_tokens", ChatCompletionRequest{Model: "m", Messages: userMsg, MaxTokens: maxTok(0)}, true},
		{"tool role allowed", ChatCompletionRequest{Model: "m", Messages: []ChatMessage{{Role: "tool", Content: "x"}}}, false},
	}

	for _, c := range cases {
		err := c.req.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr=%v", c.name, err, c.wantErr)
		}
		if err != nil {
			var perr *Error
			if pe, ok := err.(*Error); !ok || pe.Kind != KindInvalidRequest {
				t.Errorf("%s: expected KindInvalidRequest, got %T %v", c.name, err, perr)
			}
		}
	}
}
