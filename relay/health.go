package relay

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
}

func (r *Relay) handleHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Environment: r.config.Environment,
		Version:     r.config.Version,
	})
}
