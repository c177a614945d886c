package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/auth"
	"github.com/agentx/chatbot-backend/internal/models"
)

// TokenValidator resolves an access token to its user
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*models.User, error)
}

// AuthRequired rejects requests without a valid bearer token. The check runs
// before any handler touches storage.
func AuthRequired(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractTokenFromBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return apperr.E(apperr.ErrAuthentication, "middleware.auth", auth.ErrInvalidToken)
		}

		user, err := validator.ValidateAccessToken(c.UserContext(), token)
		if err != nil {
			return err
		}

		storeUserContext(c, user)
		return c.Next()
	}
}

// storeUserContext stores user information in the fiber context
func storeUserContext(c *fiber.Ctx, user *models.User) {
	c.Locals("user_id", user.ID.String())
	c.Locals("user_context", user.Context())
}

// GetUserContext retrieves the user context from the fiber context
func GetUserContext(c *fiber.Ctx) *models.UserContext {
	if ctx := c.Locals("user_context"); ctx != nil {
		if userContext, ok := ctx.(*models.UserContext); ok {
			return userContext
		}
	}
	return nil
}

// GetUserID retrieves the user ID from the fiber context
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	if uc := GetUserContext(c); uc != nil {
		return uc.UserID, nil
	}
	return uuid.Nil, apperr.E(apperr.ErrAuthentication, "middleware.auth", nil)
}
