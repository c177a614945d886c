package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agentx/chatbot-backend/internal/services"
)

// Health reports liveness and storage reachability
func Health(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := "healthy"
		code := fiber.StatusOK
		database := "ok"
		if err := svc.Store.Ping(ctx); err != nil {
			status = "unhealthy"
			code = fiber.StatusServiceUnavailable
			database = err.Error()
		}

		return c.Status(code).JSON(fiber.Map{
			"status":               status,
			"service":              "chatbot-backend",
			"database":             database,
			"realtime_sessions": len(svc.Registry.Sessions()),
		})
	}
}
