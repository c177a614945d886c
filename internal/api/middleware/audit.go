package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/agentx/chatbot-backend/internal/audit"
)

// AuditConfig holds audit middleware configuration
type AuditConfig struct {
	Logger    *audit.Logger
	SkipPaths []string // Paths to skip audit logging
}

// AuditMiddleware records requests rejected for missing or invalid
// credentials. Successful auth events are recorded by the auth service.
func AuditMiddleware(config AuditConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := utils.CopyString(c.Path())
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusCode(err)
		}
		if status == fiber.StatusUnauthorized {
			config.Logger.Failure(c.UserContext(), audit.EventUnauthorized, "invalid or missing credentials", map[string]interface{}{
				"method": utils.CopyString(c.Method()),
				"path":   path,
				"ip":     utils.CopyString(c.IP()),
			})
		}
		return err
	}
}
