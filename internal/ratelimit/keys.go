package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

const unknownKey = "unknown"

// KeyFromRequest derives the rate-limit key for a request:
//
//  1. Authorization header, hashed so tokens never reach logs or metrics.
//     The key is "auth:" plus the first 16 bytes of the SHA-256 as hex.
//  2. First valid IP in X-Forwarded-For (RFC 7239 lists may carry quotes
//     and whitespace around each element).
//  3. X-Real-IP when it parses as an IP.
//  4. The literal "unknown".
func KeyFromRequest(ctx *fasthttp.RequestCtx) string {
	if auth := ctx.Request.Header.Peek(fasthttp.HeaderAuthorization); len(auth) > 0 {
		sum := sha256.Sum256(auth)
		return "auth:" + hex.EncodeToString(sum[:16])
	}

	if fwd := ctx.Request.Header.Peek("X-Forwarded-For"); len(fwd) > 0 {
		for _, candidate := range strings.Split(string(fwd), ",") {
			ip := strings.TrimSpace(strings.Trim(strings.TrimSpace(candidate), `"`))
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if real := string(ctx.Request.Header.Peek("X-Real-IP")); real != "" {
		if net.ParseIP(real) != nil {
			return real
		}
	}

	return unknownKey
}
