package relay

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/llm"
)

// securityHeaders sets the browser hardening headers on every response.
func (r *Relay) securityHeaders(c *fiber.Ctx) error {
	r.headerHandler.SetSecurityHeaders(c)
	return c.Next()
}

// rateLimit rejects callers over their per-IP budget. The health endpoint is
// exempt so monitoring never consumes a client's budget.
func (r *Relay) rateLimit(c *fiber.Ctx) error {
	if r.config.Limiter == nil || c.Path() == HealthPath {
		return c.Next()
	}

	ip := r.headerHandler.ClientIP(c)
	if !r.config.Limiter.Allow(ip) {
		r.logger.Warn("rate limit exceeded",
			zap.String("ip", ip),
			zap.String("path", c.Path()),
		)
		return c.Status(fiber.StatusTooManyRequests).JSON(llm.ErrorResponse{
			Error:   "Too many requests",
			Message: "Rate limit exceeded. Please try again later.",
		})
	}

	return c.Next()
}
