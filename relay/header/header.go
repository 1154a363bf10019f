// Package header provides header handling for the chatrelay relay.
//
// The relay sits between a chat client and an upstream LLM provider like so:
//
//	Client <--> Relay <--> Upstream LLM Provider
//
// Upstream headers are never forwarded down: the relay re-frames the provider
// stream, so the client-facing response carries only the relay's own headers.
package header

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler manages the headers the relay sets on client responses.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

const (
	// ForwardedForHeader carries the client chain when behind a proxy.
	ForwardedForHeader = "X-Forwarded-For"

	// RealIPHeader is set by some reverse proxies to the client address.
	RealIPHeader = "X-Real-Ip"
)

// streamHeaders are set on every SSE response before the first frame.
var streamHeaders = map[string]string{
	"Content-Type":  "text/event-stream",
	"Cache-Control": "no-cache, no-transform",
	"Connection":    "keep-alive",

	// Disables response buffering in nginx so frames are not held back.
	"X-Accel-Buffering": "no",
}

// securityHeaders are set on every response.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
}

// SetStreamHeaders marks the response as an unbuffered event stream.
func (h *Handler) SetStreamHeaders(c *fiber.Ctx) {
	for k, v := range streamHeaders {
		c.Set(k, v)
	}
}

// SetSecurityHeaders sets the standard browser hardening headers.
func (h *Handler) SetSecurityHeaders(c *fiber.Ctx) {
	for k, v := range securityHeaders {
		c.Set(k, v)
	}
}

// ClientIP resolves the caller's address for rate limiting: the first entry of
// X-Forwarded-For, then X-Real-IP, then the socket's remote address.
func (h *Handler) ClientIP(c *fiber.Ctx) string {
	if fwd := c.Get(ForwardedForHeader); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(c.Get(RealIPHeader)); ip != "" {
		return ip
	}

	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}
