package providers

import (
	"context"
	"testing"
)

// stubProvider is a minimal Provider for registry tests.
type stubProvider struct {
	tag string
}

func (s *stubProvider) ProviderType() string          { return s.tag }
func (s *stubProvider) SupportsModel(m string) bool   { return true }
func (s *stubProvider) Execute(context.Context, *ChatCompletionRequest, string) (*ChatCompletionResponse, error) {
	return nil, nil
}
func (s *stubProvider) ExecuteStream(context.Context, *ChatCompletionRequest, string) (<-chan StreamFrame, error) {
	return nil, nil
}

func TestTagForModel(t *testing.T) {
	cases := []struct {
		model string
		tag   string
	}{
		{"gemini-2.0-flash", ProviderVertex},
		{"gemini-1.5-pro", ProviderVertex},
		{"claude-3-5-sonnet", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"gpt-3.5-turbo", ProviderOpenAI},
		{"unknown-xyz", ProviderVertex},       // default route
		{"GPT-4", ProviderVertex},             // prefix match is case-sensitive
		{"", ProviderVertex},
	}

	for _, c := range cases {
		if got := TagForModel(c.model); got != c.tag {
			t.Errorf("TagForModel(%q) = %q, want %q", c.model, got, c.tag)
		}
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := &stubProvider{tag: ProviderVertex}
	r.Register(ProviderVertex, p)

	if got := r.Get(ProviderVertex); got != p {
		t.Error("Get should return the registered provider")
	}
	if got := r.Get(ProviderOpenAI); got != nil {
		t.Error("Get for an unregistered tag should return nil")
	}
}

func TestRegistry_RouteByModel(t *testing.T) {
	r := NewRegistry()
	vertex := &stubProvider{tag: ProviderVertex}
	anthropic := &stubProvider{tag: ProviderAnthropic}
	r.Register(ProviderVertex, vertex)
	r.Register(ProviderAnthropic, anthropic)

	if p, tag := r.RouteByModel("gemini-2.0-flash"); p != vertex || tag != ProviderVertex {
		t.Errorf("gemini should route to vertex, got %q", tag)
	}
	if p, tag := r.RouteByModel("claude-3-opus"); p != anthropic || tag != ProviderAnthropic {
		t.Errorf("claude should route to anthropic, got %q", tag)
	}
	// Unknown models fall back to the vertex default.
	if p, tag := r.RouteByModel("llama-3-70b"); p != vertex || tag != ProviderVertex {
		t.Errorf("unknown model should route to vertex, got %q", tag)
	}
	// gpt-* routes to openai, which is not registered here.
	if p, tag := r.RouteByModel("gpt-4o"); p != nil || tag != ProviderOpenAI {
		t.Errorf("gpt should resolve tag openai with nil provider, got %v %q", p, tag)
	}
}

func TestRegistry_Tags(t *testing.T) {
	r := NewRegistry()
	r.Register(ProviderOpenAI, &stubProvider{tag: ProviderOpenAI})
	r.Register(ProviderVertex, &stubProvider{tag: ProviderVertex})

	tags := r.Tags()
	if len(tags) != 2 || tags[0] != ProviderOpenAI || tags[1] != ProviderVertex {
		t.Errorf("expected sorted tags [openai vertex], got %v", tags)
	}
}
