// Package repository declares the persistence contracts of the chat backend.
// Implementations return apperr kinds: ErrNotFound for absent rows, ErrInvalid
// wrapping ErrDuplicate for unique violations and ErrStorage for everything
// else.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agentx/chatbot-backend/internal/models"
)

// ErrDuplicate is wrapped by errors for unique constraint violations
var ErrDuplicate = errors.New("duplicate record")

// UserRepository defines user storage operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// SessionRepository defines chat session storage operations.
// Reads are scoped to an owner; a foreign session is reported as not found.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Session, error)
	// ListByUser returns the user's sessions, newest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	UpdateSummary(ctx context.Context, id uuid.UUID, summary models.Summary) error
	End(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageRepository defines message storage operations
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// ListBySession returns the session's messages in timestamp order
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Message, error)
}

// Repositories groups the repositories bound to one connection or transaction
type Repositories interface {
	Users() UserRepository
	Sessions() SessionRepository
	Messages() MessageRepository
}

// Store is the process-wide persistence handle
type Store interface {
	Repositories

	// InTx runs fn against repositories bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back when it returns
	// an error or panics.
	InTx(ctx context.Context, fn func(Repositories) error) error

	Ping(ctx context.Context) error
	Close() error
}
