package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/agentx/chatbot-backend/internal/api/middleware"
	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/models"
	"github.com/agentx/chatbot-backend/internal/services"
)

// PostMessageRequest is the body of a request/response turn
type PostMessageRequest struct {
	Sender  string                `json:"sender"`
	Content models.MessageContent `json:"content"`
}

// errSessionID is reported for an id that is not a UUID
var errSessionID = errors.New("invalid session id")

func sessionID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.E(apperr.ErrInvalid, "handlers.session_id", errSessionID)
	}
	return id, nil
}

// CreateSession creates a new chat session
func CreateSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}

		session, err := svc.Chat.CreateSession(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	}
}

// GetSessions returns the caller's sessions, newest first
func GetSessions(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}

		sessions, err := svc.Chat.ListSessions(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(sessions)
	}
}

// GetSession returns a specific session
func GetSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}
		id, err := sessionID(c)
		if err != nil {
			return err
		}

		session, err := svc.Chat.GetSession(c.UserContext(), userID, id)
		if err != nil {
			return err
		}
		return c.JSON(session)
	}
}

// GetSessionMessages returns messages for a session in timestamp order
func GetSessionMessages(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}
		id, err := sessionID(c)
		if err != nil {
			return err
		}

		messages, err := svc.Chat.ListMessages(c.UserContext(), userID, id)
		if err != nil {
			return err
		}
		return c.JSON(messages)
	}
}

// PostMessage runs one turn and returns the bot message
func PostMessage(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}
		id, err := sessionID(c)
		if err != nil {
			return err
		}

		var req PostMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if req.Sender == "" {
			req.Sender = string(models.SenderUser)
		}
		if _, err := models.ParseSender(req.Sender); err != nil {
			return apperr.E(apperr.ErrInvalid, "handlers.post_message", err)
		}

		bot, err := svc.Chat.PostMessage(c.UserContext(), userID, id, req.Content.Text)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(bot)
	}
}

// DeleteSession deletes a session and its messages
func DeleteSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}
		id, err := sessionID(c)
		if err != nil {
			return err
		}

		if err := svc.Chat.DeleteSession(c.UserContext(), userID, id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// EndSession marks a session as ended
func EndSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := middleware.GetUserID(c)
		if err != nil {
			return err
		}
		id, err := sessionID(c)
		if err != nil {
			return err
		}

		session, err := svc.Chat.EndSession(c.UserContext(), userID, id)
		if err != nil {
			return err
		}
		return c.JSON(session)
	}
}
