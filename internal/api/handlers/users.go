package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agentx/chatbot-backend/internal/auth"
	"github.com/agentx/chatbot-backend/internal/services"
)

// SignupRequest represents a signup request
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Signup registers a new user
func Signup(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req SignupRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		user, err := svc.Auth.Register(c.UserContext(), req.Username, req.Email, req.Password)
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(UserResponse{
			ID:        user.ID.String(),
			Username:  user.Username,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
		})
	}
}

// Login handles user login
func Login(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if req.Email == "" || req.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Email and password are required")
		}

		pair, err := svc.Auth.Login(c.UserContext(), req.Email, req.Password)
		if err != nil {
			// Don't reveal which of the two was wrong
			if errors.Is(err, auth.ErrInvalidCredentials) {
				return fiber.NewError(fiber.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
			}
			return err
		}
		return c.JSON(pair)
	}
}

// RefreshToken exchanges a refresh token for a new token pair
func RefreshToken(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req RefreshRequest
		if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Refresh token is required")
		}

		pair, err := svc.Auth.Refresh(c.UserContext(), req.RefreshToken)
		if err != nil {
			return err
		}
		return c.JSON(pair)
	}
}
