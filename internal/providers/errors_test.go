package providers

import (
	"errors"
	"testing"
)

func TestError_HTTPStatus(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{NewAuth("bad token"), 401},
		{NewInvalidRequest("bad body"), 400},
		{NewRateLimited("slow down"), 429},
		{NewWAFBlocked("blocked"), 403},
		{ErrCircuitOpen, 503},
		{Unavailablef("vertex unreachable"), 503},
		{Unavailablef("request timeout after 30s"), 504},
		{Unavailablef("Timeout waiting for upstream"), 504},
		{NewNetwork(errors.New("dial tcp: refused")), 502},
		{NewHTTP(418, "teapot"), 418},
		{NewInternal("impossible state", nil), 500},
	}

	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.status {
			t.Errorf("%v: HTTPStatus() = %d, want %d", c.err, got, c.status)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("socket closed")
	err := NewNetwork(inner)
	if !errors.Is(err, inner) {
		t.Error("wrapped error should survive errors.Is")
	}
}

func TestError_ImplementsStatusCoder(t *testing.T) {
	var sc StatusCoder = NewHTTP(502, "boom")
	if sc.HTTPStatus() != 502 {
		t.Errorf("expected 502, got %d", sc.HTTPStatus())
	}
}
