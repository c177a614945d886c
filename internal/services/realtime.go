package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/audit"
	"github.com/agentx/chatbot-backend/internal/models"
)

// Close codes used by the realtime flow
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Conn is a realtime connection as seen by the chat flow
type Conn interface {
	// ReadMessage blocks for the next client message. Any error ends the connection.
	ReadMessage() ([]byte, error)
	WriteText(text string) error
	WriteJSON(v interface{}) error
	Close(code int, reason string) error
}

// Authenticator resolves a bearer token to a user
type Authenticator interface {
	ValidateAccessToken(ctx context.Context, token string) (*models.User, error)
}

// ConnState is the lifecycle state of a realtime connection
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthorized
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type inboundMessage struct {
	Text string `json:"text"`
}

// RealtimeService drives realtime chat connections
type RealtimeService struct {
	chat     *ChatService
	auth     Authenticator
	registry *ConnectionRegistry
	audit    *audit.Logger
	logger   *logrus.Logger
}

// NewRealtimeService creates a realtime service
func NewRealtimeService(chat *ChatService, auth Authenticator, registry *ConnectionRegistry, auditLogger *audit.Logger, logger *logrus.Logger) *RealtimeService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RealtimeService{
		chat:     chat,
		auth:     auth,
		registry: registry,
		audit:    auditLogger,
		logger:   logger,
	}
}

// Serve runs an accepted connection until the client leaves. The token is
// checked before anything else; the session must belong to the token's user.
// Both failures close the connection with a policy violation. Serve returns
// the state the connection was in when it closed.
func (s *RealtimeService) Serve(ctx context.Context, conn Conn, rawSessionID, token string) (reached ConnState) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := s.logger.WithField("session_id", rawSessionID)

	state := StateConnecting
	enter := func(next ConnState) {
		log.WithFields(logrus.Fields{
			"from": state.String(),
			"to":   next.String(),
		}).Debug("Realtime state change")
		state = next
	}
	defer func() {
		reached = state
		enter(StateClosed)
	}()

	enter(StateAuthenticating)
	user, err := s.auth.ValidateAccessToken(ctx, token)
	if err != nil {
		s.audit.Failure(ctx, audit.EventRealtimeReject, "authentication failed", map[string]interface{}{"session_id": rawSessionID})
		log.WithError(err).Debug("Rejecting realtime connection")
		_ = conn.Close(ClosePolicyViolation, "authentication failed")
		return
	}
	log = log.WithField("user_id", user.ID.String())
	enter(StateAuthorized)

	sessionID, err := uuid.Parse(rawSessionID)
	if err != nil {
		_ = conn.Close(ClosePolicyViolation, "session not found")
		return
	}
	if _, err := s.chat.GetSession(ctx, user.ID, sessionID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.audit.Failure(ctx, audit.EventRealtimeReject, "session not found", map[string]interface{}{
				"session_id": rawSessionID,
				"user_id":    user.ID.String(),
			})
			_ = conn.Close(ClosePolicyViolation, "session not found")
		} else {
			log.WithError(err).Error("Failed to load session")
			_ = conn.Close(CloseInternalError, "internal error")
		}
		return
	}

	s.registry.Register(sessionID, conn)
	defer s.registry.Unregister(sessionID, conn)
	enter(StateActive)
	log.Info("Realtime connection active")

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("Realtime connection closed")
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Text) == "" {
			continue
		}

		s.turn(ctx, log, conn, user.ID, sessionID, in.Text)
	}
}

func (s *RealtimeService) turn(ctx context.Context, log *logrus.Entry, conn Conn, userID, sessionID uuid.UUID, text string) {
	_, err := s.chat.StreamTurn(ctx, userID, sessionID, text, conn.WriteText)
	if err == nil {
		return
	}

	var (
		payload string
		genErr  *GenerationError
	)
	switch {
	case errors.As(err, &genErr):
		log.WithError(err).Warn("Realtime generation failed")
		payload = "LLM error: " + genErr.Err.Error()
	default:
		log.WithError(err).Error("Realtime turn failed")
		payload = "Failed to save messages: " + apperr.PublicMessage(err)
	}

	// best effort; the connection may already be gone
	_ = conn.WriteJSON(map[string]string{"error": payload})
}
