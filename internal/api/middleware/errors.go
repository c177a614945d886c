package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/apperr"
)

// StatusCode returns the HTTP status for an error returned by a handler
func StatusCode(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return apperr.HTTPStatus(err)
}

// ErrorHandler renders handler errors as {"error", "code"}. Server-side
// failures are logged with their cause and reported generically.
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)

		message := apperr.PublicMessage(err)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			message = fe.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"method": utils.CopyString(c.Method()),
				"path":   utils.CopyString(c.Path()),
				"status": code,
			}).Error("Request failed")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
			"code":  code,
		})
	}
}
