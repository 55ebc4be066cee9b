package providers

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds the configured providers by tag and routes requests by
// model name. Safe for concurrent use; registration normally happens once
// during startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for tag.
func (r *Registry) Register(tag string, p Provider) {
	r.mu.Lock()
	r.providers[tag] = p
	r.mu.Unlock()
}

// Get returns the provider registered under tag, or nil.
func (r *Registry) Get(tag string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[tag]
}

// Tags returns the registered provider tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.providers))
	for t := range r.providers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// DefaultModels lists the model ids advertised for each provider tag by the
// models endpoint. Routing itself is prefix-based and accepts any model the
// upstream serves; this list is informational.
var DefaultModels = map[string][]string{
	ProviderVertex:    {"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
	ProviderAnthropic: {"claude-sonnet-4-20250514", "claude-3-7-sonnet-20250219", "claude-3-5-haiku-20241022"},
	ProviderOpenAI:    {"gpt-4o", "gpt-4o-mini", "gpt-4.1"},
}

// RouteByModel resolves the provider for a model name. The returned tag is
// always valid; the provider is nil when nothing is registered under it.
func (r *Registry) RouteByModel(model string) (Provider, string) {
	tag := TagForModel(model)
	return r.Get(tag), tag
}

// TagForModel maps a model name to a provider tag by case-sensitive prefix:
//
//	"gemini-*" → vertex
//	"claude-*" → anthropic
//	"gpt-*"    → openai
//	otherwise  → vertex (default)
func TagForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini-"):
		return ProviderVertex
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"):
		return ProviderOpenAI
	default:
		return ProviderVertex
	}
}
