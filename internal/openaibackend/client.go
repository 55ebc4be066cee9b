// Package openaibackend serves gpt-* models through the upstream
// conversation API, using short-lived tokens from the harvester sidecar.
package openaibackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	// DefaultBaseURL is the upstream conversation endpoint.
	DefaultBaseURL = "https://chatgpt.com/backend-api/conversation"
	// DefaultUserAgent matches a desktop Chrome build; the upstream WAF
	// rejects obviously synthetic agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	clientTimeout = 60 * time.Second

	retryAttempts = 3
	retryBackoff  = 500 * time.Millisecond
)

// Client posts conversation requests to the upstream backend.
type Client struct {
	httpc     *http.Client
	baseURL   string
	userAgent string
}

// ClientOptions configures a Client. Zero values fall back to defaults.
type ClientOptions struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

// NewClient creates a backend Client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: clientTimeout}
	}
	return &Client{
		httpc:     opts.HTTPClient,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
	}
}

// Send posts a conversation request. The caller owns the response body.
//
// Tokens that are empty or carry line breaks are rejected before any
// network traffic: they would corrupt the header block. A malformed arkose
// token is silently omitted instead since the request may still pass.
//
// Network errors and 5xx answers are retried up to three times with
// linear backoff. 4xx answers are never retried: the request will not
// get better, and a WAF block repeated quickly makes things worse.
func (c *Client) Send(ctx context.Context, req ConversationRequest, accessToken string, arkoseToken *string) (*http.Response, error) {
	if !validToken(accessToken) {
		return nil, providers.NewAuth("Invalid access token format")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, providers.NewInternal("encode backend request", err)
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		resp, err := c.sendOnce(ctx, body, accessToken, arkoseToken)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == retryAttempts {
			return nil, lastErr
		}

		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return nil, providers.Unavailablef("Backend request cancelled: %v", ctx.Err())
		}
	}
	return nil, lastErr
}

func (c *Client) sendOnce(ctx context.Context, body []byte, accessToken string, arkoseToken *string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewInternal("build backend request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Referer", "https://chatgpt.com/")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if arkoseToken != nil && validToken(*arkoseToken) {
		httpReq.Header.Set("Openai-Sentinel-Arkose-Token", *arkoseToken)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, providers.NewNetwork(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, providers.NewAuth(string(text))
		case http.StatusForbidden:
			return nil, providers.NewWAFBlocked(string(text))
		case http.StatusTooManyRequests:
			return nil, providers.NewRateLimited(string(text))
		default:
			return nil, providers.NewHTTP(resp.StatusCode, string(text))
		}
	}

	return resp, nil
}

// retryable reports whether err is worth another attempt: transport
// failures and upstream 5xx, nothing else.
func retryable(err error) bool {
	var perr *providers.Error
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Kind {
	case providers.KindNetwork:
		return true
	case providers.KindHTTP:
		return perr.Status >= 500
	default:
		return false
	}
}

func validToken(token string) bool {
	return token != "" && !strings.ContainsAny(token, "\n\r")
}
