package handlers

import (
	"context"
	"time"

	"studentquery/internal/database"
	"studentquery/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports liveness of the coordinator and its dependencies
type HealthHandler struct {
	db      *database.DB
	mongodb *database.MongoDB
	redis   *services.RedisService
}

// NewHealthHandler creates a health handler. mongodb and redis may be nil
// when running without them.
func NewHealthHandler(db *database.DB, mongodb *database.MongoDB, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{db: db, mongodb: mongodb, redis: redis}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	deps := fiber.Map{}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		deps["mysql"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		deps["mysql"] = "ok"
	}

	if h.mongodb != nil {
		if err := h.mongodb.Ping(ctx); err != nil {
			deps["mongodb"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			deps["mongodb"] = "ok"
		}
	} else {
		deps["mongodb"] = "not configured (in-memory ledger)"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			deps["redis"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			deps["redis"] = "ok"
		}
	} else {
		deps["redis"] = "not configured (in-process queue)"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
