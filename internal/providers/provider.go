// Package providers defines the common interfaces and types shared by all
// upstream LLM provider implementations (Vertex/Gemini, the Anthropic bridge,
// and the OpenAI backend).
//
// Each provider lives in its own sub-package and implements the Provider
// interface. The registry in this package dispatches requests by model name.
package providers

import (
	"context"
	"time"
)

// Provider tags used by the registry and the router.
const (
	ProviderVertex    = "vertex"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultProviderOrder lists all known provider tags. Used to pre-seed
// circuit breakers and metrics gauges.
var DefaultProviderOrder = []string{
	ProviderVertex,
	ProviderAnthropic,
	ProviderOpenAI,
}

// Default circuit breaker and upstream timeout constants.
const (
	CBFailureThreshold = 10
	CBOpenTimeout      = 60 * time.Second
	CBSuccessThreshold = 3

	UnaryTimeout  = 30 * time.Second
	StreamTimeout = 60 * time.Second
)

// StreamFrame is one normalized upstream SSE payload delivered during a
// streaming response.
//
// Data holds the payload of a single data event: a serialized
// ChatCompletionChunk, the literal "[DONE]", or free text that the handler
// re-emits as an SSE comment. An empty Data is a keep-alive. A non-nil Err
// is a terminal transport error; no frames follow it.
type StreamFrame struct {
	Data string
	Err  error
}

// Provider is the contract every upstream implementation satisfies.
type Provider interface {
	// ProviderType returns the registry tag ("vertex", "anthropic", "openai").
	ProviderType() string

	// SupportsModel reports whether the provider serves the given model name.
	SupportsModel(model string) bool

	// Execute performs a unary completion.
	Execute(ctx context.Context, req *ChatCompletionRequest, requestID string) (*ChatCompletionResponse, error)

	// ExecuteStream starts a streaming completion. The returned channel is
	// closed by the provider when the upstream stream ends; a frame with a
	// non-nil Err terminates the stream.
	ExecuteStream(ctx context.Context, req *ChatCompletionRequest, requestID string) (<-chan StreamFrame, error)
}

// HealthChecker is an optional interface implemented by providers that can
// probe their upstream. Check with a type assertion before calling.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}
