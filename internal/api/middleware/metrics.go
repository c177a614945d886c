package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/agentx/chatbot-backend/internal/metrics"
)

// Metrics records request counts and latencies by route pattern
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// fiber reuses these buffers after the handler returns; labels outlive it
		method := utils.CopyString(c.Method())
		// route path keeps the label set bounded ("/chat-session/:id")
		path := utils.CopyString(c.Route().Path)
		status := c.Response().StatusCode()
		if err != nil {
			status = StatusCode(err)
		}

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}
