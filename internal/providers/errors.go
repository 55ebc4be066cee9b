package providers

import (
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"
)

// Kind classifies provider failures. The HTTP mapping lives in HTTPStatus.
type Kind int

const (
	// KindAuth — the upstream rejected our credentials.
	KindAuth Kind = iota
	// KindInvalidRequest — the client request failed validation.
	KindInvalidRequest
	// KindRateLimited — the upstream returned 429.
	KindRateLimited
	// KindWAFBlocked — the upstream edge firewall rejected the request (403).
	KindWAFBlocked
	// KindCircuitOpen — the circuit breaker rejected the call locally.
	KindCircuitOpen
	// KindUnavailable — the upstream is unreachable, timed out, or degraded.
	KindUnavailable
	// KindNetwork — a transport-level failure before any HTTP status.
	KindNetwork
	// KindHTTP — an upstream HTTP error carried through with its status.
	KindHTTP
	// KindInternal — a bug or impossible state on our side.
	KindInternal
)

// Error is the structured failure type returned by all providers and the
// harvester. It implements StatusCoder so the handler can map it to HTTP.
type Error struct {
	Kind    Kind
	Status  int // only meaningful for KindHTTP
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to an HTTP status:
//
//	Auth           → 401
//	InvalidRequest → 400
//	RateLimited    → 429
//	WAFBlocked     → 403
//	CircuitOpen    → 503
//	Unavailable    → 504 when the message mentions a timeout, else 503
//	Network        → 502
//	HTTP           → the carried status
//	Internal       → 500
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return fasthttp.StatusUnauthorized
	case KindInvalidRequest:
		return fasthttp.StatusBadRequest
	case KindRateLimited:
		return fasthttp.StatusTooManyRequests
	case KindWAFBlocked:
		return fasthttp.StatusForbidden
	case KindCircuitOpen:
		return fasthttp.StatusServiceUnavailable
	case KindUnavailable:
		if strings.Contains(strings.ToLower(e.Message), "timeout") {
			return fasthttp.StatusGatewayTimeout
		}
		return fasthttp.StatusServiceUnavailable
	case KindNetwork:
		return fasthttp.StatusBadGateway
	case KindHTTP:
		if e.Status > 0 {
			return e.Status
		}
		return fasthttp.StatusBadGateway
	}
	return fasthttp.StatusInternalServerError
}

// ErrCircuitOpen is returned when the breaker short-circuits an upstream call.
var ErrCircuitOpen = &Error{Kind: KindCircuitOpen, Message: "circuit breaker is open"}

// NewAuth creates an authentication error.
func NewAuth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

// NewInvalidRequest creates a request-validation error.
func NewInvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// NewRateLimited creates a rate-limit error.
func NewRateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

// NewWAFBlocked creates an edge-firewall rejection error.
func NewWAFBlocked(msg string) *Error {
	return &Error{Kind: KindWAFBlocked, Message: msg}
}

// Unavailablef creates an Unavailable error with a formatted message.
func Unavailablef(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// NewNetwork wraps a transport failure.
func NewNetwork(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "upstream connection failed", Err: err}
}

// NewHTTP carries an upstream HTTP status through unchanged.
func NewHTTP(status int, msg string) *Error {
	return &Error{Kind: KindHTTP, Status: status, Message: msg}
}

// NewInternal creates an internal error.
func NewInternal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
