package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/audit"
	"github.com/agentx/chatbot-backend/internal/llm"
	"github.com/agentx/chatbot-backend/internal/memory"
	"github.com/agentx/chatbot-backend/internal/metrics"
	"github.com/agentx/chatbot-backend/internal/models"
	"github.com/agentx/chatbot-backend/internal/repository"
)

// ErrGeneration matches failures of the model call of a turn
var ErrGeneration = errors.New("generation failed")

// GenerationError carries the model failure of a streamed turn
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return ErrGeneration.Error() + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is reports ErrGeneration so callers can test with errors.Is
func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}

// ErrEmptyMessage is returned when a turn has no text
var ErrEmptyMessage = errors.New("message text is required")

// LLM is the gateway surface the chat service depends on
type LLM interface {
	Prompt(history, input string) []llm.Message
	Complete(ctx context.Context, messages []llm.Message) (string, error)
	Stream(ctx context.Context, history, input string) (<-chan llm.Fragment, error)
}

// ChatService manages chat sessions and turns. It holds no per-session state:
// memory is rebuilt from storage on every turn.
type ChatService struct {
	store  repository.Store
	llm    LLM
	memory *memory.Manager
	audit  *audit.Logger
	logger *logrus.Logger
	now    func() time.Time
}

// NewChatService creates a new chat service
func NewChatService(store repository.Store, gateway LLM, mem *memory.Manager, auditLogger *audit.Logger, logger *logrus.Logger) *ChatService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChatService{
		store:  store,
		llm:    gateway,
		memory: mem,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

// CreateSession creates a new chat session for a user
func (s *ChatService) CreateSession(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	session := &models.Session{
		ID:        uuid.New(),
		UserID:    uuid.NullUUID{UUID: userID, Valid: true},
		StartedAt: s.now().UTC(),
	}

	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		return r.Sessions().Create(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Success(ctx, audit.EventSessionCreate, userID, session.ID.String())
	return session, nil
}

// ListSessions returns the user's sessions, newest first
func (s *ChatService) ListSessions(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	return s.store.Sessions().ListByUser(ctx, userID)
}

// GetSession returns a session owned by the user. A foreign session is
// reported exactly like a missing one.
func (s *ChatService) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	return s.store.Sessions().GetForUser(ctx, sessionID, userID)
}

// ListMessages returns the messages of a session owned by the user
func (s *ChatService) ListMessages(ctx context.Context, userID, sessionID uuid.UUID) ([]models.Message, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.Messages().ListBySession(ctx, sessionID)
}

// DeleteSession deletes a session and its messages
func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		if _, err := r.Sessions().GetForUser(ctx, sessionID, userID); err != nil {
			return err
		}
		return r.Sessions().Delete(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	s.audit.Success(ctx, audit.EventSessionDelete, userID, sessionID.String())
	return nil
}

// EndSession stamps the session's end time
func (s *ChatService) EndSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	var ended *models.Session
	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		session, err := r.Sessions().GetForUser(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		if err := r.Sessions().End(ctx, sessionID, at); err != nil {
			return err
		}
		session.EndedAt = &at
		ended = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Success(ctx, audit.EventSessionEnd, userID, sessionID.String())
	return ended, nil
}

// PostMessage runs one request/response turn: the reply is generated from
// the session memory and the new text, then both messages and the updated
// summary are committed together. If the commit fails the reply is
// discarded.
func (s *ChatService) PostMessage(ctx context.Context, userID, sessionID uuid.UUID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.E(apperr.ErrInvalid, "chat.post_message", ErrEmptyMessage)
	}

	session, state, err := s.loadMemory(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := s.llm.Complete(ctx, s.llm.Prompt(state.FormatContext(), text))
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("http", "generation_error").Inc()
		return nil, err
	}

	bot, err := s.commitTurn(ctx, session, state, text, reply)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("http", "storage_error").Inc()
		return nil, err
	}

	metrics.TurnsTotal.WithLabelValues("http", "success").Inc()
	return bot, nil
}

// StreamTurn runs one streamed turn. Each fragment is passed to send as it
// arrives. When send fails the client is gone: streaming stops and the text
// received so far is still persisted. A model failure is returned as a
// *GenerationError and nothing is persisted.
func (s *ChatService) StreamTurn(ctx context.Context, userID, sessionID uuid.UUID, text string, send func(string) error) (*models.Message, error) {
	session, state, err := s.loadMemory(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, err := s.llm.Stream(streamCtx, state.FormatContext(), text)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("realtime", "generation_error").Inc()
		return nil, &GenerationError{Err: err}
	}

	var (
		reply   strings.Builder
		genErr  error
		dropped bool
	)
	for f := range fragments {
		if f.Err != nil {
			genErr = f.Err
			continue
		}
		if dropped {
			continue
		}
		reply.WriteString(f.Text)
		if err := send(f.Text); err != nil {
			dropped = true
			cancel()
		}
	}

	if genErr != nil {
		metrics.TurnsTotal.WithLabelValues("realtime", "generation_error").Inc()
		return nil, &GenerationError{Err: genErr}
	}
	if dropped && reply.Len() == 0 {
		return nil, nil
	}

	bot, err := s.commitTurn(ctx, session, state, text, reply.String())
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("realtime", "storage_error").Inc()
		return nil, err
	}

	metrics.TurnsTotal.WithLabelValues("realtime", "success").Inc()
	return bot, nil
}

func (s *ChatService) loadMemory(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, *memory.State, error) {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.store.Messages().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	state, err := s.memory.Reconstruct(messages, session.StoredSummary())
	if err != nil {
		return nil, nil, err
	}
	return session, state, nil
}

// commitTurn records the turn in memory, then writes the user message, the
// bot message and the summary in one transaction. A failed compression does
// not block the turn: the summary is written back unchanged and the next
// turn compresses again.
func (s *ChatService) commitTurn(ctx context.Context, session *models.Session, state *memory.State, userText, botText string) (*models.Message, error) {
	log := s.logger.WithFields(logrus.Fields{
		"session_id": session.ID.String(),
	})

	if err := s.memory.RecordTurn(ctx, state, userText, botText); err != nil {
		log.WithError(err).Warn("Keeping turn uncompressed")
	}

	// postgres keeps microseconds; the bot row must still sort after the user row
	userAt := s.now().UTC().Truncate(time.Microsecond)
	botAt := s.now().UTC().Truncate(time.Microsecond)
	if !botAt.After(userAt) {
		botAt = userAt.Add(time.Microsecond)
	}
	userMsg := models.NewMessage(session.ID, models.SenderUser, userText, userAt)
	botMsg := models.NewMessage(session.ID, models.SenderBot, botText, botAt)
	summary := state.Summary()

	err := s.store.InTx(ctx, func(r repository.Repositories) error {
		if err := r.Messages().Create(ctx, &userMsg); err != nil {
			return err
		}
		if err := r.Messages().Create(ctx, &botMsg); err != nil {
			return err
		}
		return r.Sessions().UpdateSummary(ctx, session.ID, summary)
	})
	if err != nil {
		log.WithError(err).Error("Failed to persist turn")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"summary_passes": summary.Count,
		"history_words":  state.TokenCount(),
	}).Debug("Turn persisted")
	return &botMsg, nil
}
