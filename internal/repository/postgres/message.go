package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentx/chatbot-backend/internal/models"
)

// MessageRepository implements repository.MessageRepository using PostgreSQL
type MessageRepository struct {
	db sqlx.ExtContext
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db sqlx.ExtContext) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO messages (id, session_id, sender, content, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		message.ID, message.SessionID, string(message.Sender), message.Content, message.Timestamp,
	)
	return wrapErr("messages.create", err)
}

// ListBySession retrieves messages for a session in timestamp order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Message, error) {
	messages := []models.Message{}
	query := `
		SELECT id, session_id, sender, content, timestamp
		FROM messages
		WHERE session_id = $1
		ORDER BY timestamp ASC`

	if err := sqlx.SelectContext(ctx, r.db, &messages, query, sessionID); err != nil {
		return nil, wrapErr("messages.list", err)
	}
	return messages, nil
}
