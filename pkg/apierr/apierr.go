// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypeRateLimitError = "rate_limit_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidAPIKey      = "invalid_api_key"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeUpstreamError      = "upstream_error"
	CodeBadGateway         = "bad_gateway"
	CodeServiceUnavailable = "service_unavailable"
	CodeTimeout            = "timeout"
	CodeInternalError      = "internal_error"
)

// maxMessageLen caps error messages so upstream bodies can't balloon responses.
const maxMessageLen = 1000

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Body returns the serialized OpenAI-shaped error envelope for the given
// status and message. Used by streaming handlers that must emit errors as
// data frames after headers have been flushed.
func Body(status int, message string) []byte {
	errType, code := Classify(status)
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: Sanitize(message),
		Type:    errType,
		Code:    code,
	}})
	return body
}

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: Sanitize(message),
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteStatus maps status to its canonical type/code pair and writes the body.
//
//	400 → invalid_request_error / invalid_request
//	401 → invalid_request_error / invalid_api_key
//	403 → invalid_request_error / forbidden
//	404 → invalid_request_error / not_found
//	429 → rate_limit_error     / rate_limit_exceeded
//	502 → server_error         / bad_gateway
//	503 → server_error         / service_unavailable
//	504 → server_error         / timeout
//	other 5xx → server_error   / upstream_error
func WriteStatus(ctx *fasthttp.RequestCtx, status int, message string) {
	errType, code := Classify(status)
	if status == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "60")
	}
	Write(ctx, status, message, errType, code)
}

// Classify returns the OpenAI error type and code for an HTTP status.
func Classify(status int) (errType, code string) {
	switch status {
	case fasthttp.StatusBadRequest:
		return TypeInvalidRequest, CodeInvalidRequest
	case fasthttp.StatusUnauthorized:
		return TypeInvalidRequest, CodeInvalidAPIKey
	case fasthttp.StatusForbidden:
		return TypeInvalidRequest, CodeForbidden
	case fasthttp.StatusNotFound:
		return TypeInvalidRequest, CodeNotFound
	case fasthttp.StatusTooManyRequests:
		return TypeRateLimitError, CodeRateLimitExceeded
	case fasthttp.StatusBadGateway:
		return TypeServerError, CodeBadGateway
	case fasthttp.StatusServiceUnavailable:
		return TypeServerError, CodeServiceUnavailable
	case fasthttp.StatusGatewayTimeout:
		return TypeServerError, CodeTimeout
	}
	if status >= 500 {
		return TypeServerError, CodeUpstreamError
	}
	return TypeInvalidRequest, CodeInvalidRequest
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	WriteStatus(ctx, fasthttp.StatusTooManyRequests, "Rate limit exceeded")
}

// Sanitize truncates the message to 1000 characters and strips non-printable
// and non-ASCII bytes so upstream error bodies can't smuggle control
// sequences into client responses.
func Sanitize(msg string) string {
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	out := make([]byte, 0, len(msg))
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c >= 0x20 && c < 0x7f || c == '\n' || c == '\t' {
			out = append(out, c)
		}
	}
	return string(out)
}
