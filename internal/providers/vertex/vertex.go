// Package vertex serves gemini-* models against the Google generateContent
// endpoints, in either API-key or OAuth service-account mode.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	// DefaultAPIKeyBaseURL hosts the public API-key endpoints.
	DefaultAPIKeyBaseURL = "https://generativelanguage.googleapis.com"

	unknownProjectID = "unknown"
	streamBufferSize = 32
)

// Config carries the endpoint settings for a Provider.
type Config struct {
	Region        string
	APIKeyBaseURL string // override for tests
	OAuthBaseURL  string // override for tests
}

// Provider is the REST implementation of the Vertex provider.
type Provider struct {
	cfg    Config
	tokens *TokenManager
	unary  *http.Client
	stream *http.Client
}

// New creates a Provider with the standard unary and streaming timeouts.
func New(cfg Config, tokens *TokenManager) *Provider {
	return &Provider{
		cfg:    cfg,
		tokens: tokens,
		unary:  &http.Client{Timeout: providers.UnaryTimeout},
		stream: &http.Client{Timeout: providers.StreamTimeout},
	}
}

func (p *Provider) ProviderType() string { return providers.ProviderVertex }

func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gemini-")
}

// buildURL assembles the endpoint for model. API-key mode targets the
// generativelanguage host with the key in the query; OAuth mode targets
// the regional aiplatform host.
func (p *Provider) buildURL(model, token string, streaming bool) string {
	method := "generateContent"
	if streaming {
		method = "streamGenerateContent"
	}

	if p.tokens.IsAPIKey() {
		base := p.cfg.APIKeyBaseURL
		if base == "" {
			base = DefaultAPIKeyBaseURL
		}
		u := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
			strings.TrimSuffix(base, "/"), model, method, url.QueryEscape(token))
		if streaming {
			u += "&alt=sse"
		}
		return u
	}

	base := p.cfg.OAuthBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", p.cfg.Region)
	}
	projectID := p.tokens.ProjectID()
	if projectID == "" {
		projectID = unknownProjectID
	}
	u := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		strings.TrimSuffix(base, "/"), projectID, p.cfg.Region, model, method)
	if streaming {
		u += "?alt=sse"
	}
	return u
}

func (p *Provider) send(ctx context.Context, client *http.Client, model, requestID string, body GenerateContentRequest, streaming bool) (*http.Response, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewInternal("encode Vertex request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.buildURL(model, token, streaming), bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewInternal("build Vertex request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !p.tokens.IsAPIKey() {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, providers.Unavailablef("Vertex API request timeout (model: %s, request_id: %s): %v", model, requestID, err)
		}
		return nil, providers.NewNetwork(fmt.Errorf("Vertex API request failed (model: %s, request_id: %s): %w", model, requestID, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, providers.Unavailablef("Vertex API Error (model: %s, request_id: %s, status: %d): %s",
			model, requestID, resp.StatusCode, text)
	}

	return resp, nil
}

// Execute performs a unary generateContent call.
func (p *Provider) Execute(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (*providers.ChatCompletionResponse, error) {
	resp, err := p.send(ctx, p.unary, req.Model, requestID, ToGenerateContentRequest(req), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var vres GenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&vres); err != nil {
		return nil, providers.NewInternal(fmt.Sprintf("parse Vertex response (model: %s, request_id: %s)", req.Model, requestID), err)
	}

	return ResponseFromVertex(&vres, req.Model, "chatcmpl-"+requestID)
}

// ExecuteStream performs a streamGenerateContent call and emits OpenAI
// chunks. The upstream concatenates JSON objects with array decoration;
// each read is stripped of "data: " prefixes and surrounding brackets and
// commas before parsing. Unparseable cleanings degrade to comments, not
// stream aborts.
func (p *Provider) ExecuteStream(ctx context.Context, req *providers.ChatCompletionRequest, requestID string) (<-chan providers.StreamFrame, error) {
	resp, err := p.send(ctx, p.stream, req.Model, requestID, ToGenerateContentRequest(req), true)
	if err != nil {
		return nil, err
	}

	frames := make(chan providers.StreamFrame, streamBufferSize)
	id := "chatcmpl-" + requestID
	model := req.Model

	go func() {
		defer close(frames)
		defer resp.Body.Close()

		emit := func(f providers.StreamFrame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				cleaned := cleanStreamChunk(string(buf[:n]))
				if !emit(frameForChunk(cleaned, model, id)) {
					return
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					slog.Error("vertex_stream_error", slog.String("error", readErr.Error()))
					emit(providers.StreamFrame{Err: providers.NewNetwork(fmt.Errorf("stream-error: %w", readErr))})
				}
				return
			}
		}
	}()

	return frames, nil
}

// cleanStreamChunk strips the SSE and JSON-array decoration the upstream
// wraps around each object.
func cleanStreamChunk(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "data: ")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimPrefix(s, ",")
	s = strings.TrimSuffix(s, ",")
	s = strings.TrimSuffix(s, "]")
	return s
}

// frameForChunk parses one cleaned chunk. Empty chunks turn into
// keep-alive frames and unparseable ones into parse-error comments.
func frameForChunk(cleaned, model, id string) providers.StreamFrame {
	if cleaned == "" {
		return providers.StreamFrame{}
	}

	var vres GenerateContentResponse
	if err := json.Unmarshal([]byte(cleaned), &vres); err != nil {
		slog.Warn("vertex_chunk_parse_error", slog.String("error", err.Error()))
		return providers.StreamFrame{Data: "parse-error"}
	}

	data, err := json.Marshal(ChunkFromVertex(&vres, model, id))
	if err != nil {
		slog.Error("vertex_chunk_encode_error", slog.String("error", err.Error()))
		return providers.StreamFrame{Data: "parse-error"}
	}
	return providers.StreamFrame{Data: string(data)}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
