package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentx/chatbot-backend/internal/models"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL
type SessionRepository struct {
	db sqlx.ExtContext
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db sqlx.ExtContext) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, summary, started_at, ended_at`

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, summary, started_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, session.ID, session.UserID, session.Summary, session.StartedAt)
	return wrapErr("sessions.create", err)
}

// GetForUser retrieves a session owned by userID
func (r *SessionRepository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Session, error) {
	var session models.Session
	query := `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE id = $1 AND user_id = $2`

	if err := sqlx.GetContext(ctx, r.db, &session, query, id, userID); err != nil {
		return nil, wrapErr("sessions.get", err)
	}
	return &session, nil
}

// ListByUser lists a user's sessions, newest first
func (r *SessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	sessions := []models.Session{}
	query := `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC`

	if err := sqlx.SelectContext(ctx, r.db, &sessions, query, userID); err != nil {
		return nil, wrapErr("sessions.list", err)
	}
	return sessions, nil
}

// UpdateSummary replaces the stored summary document
func (r *SessionRepository) UpdateSummary(ctx context.Context, id uuid.UUID, summary models.Summary) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET summary = $2 WHERE id = $1`, id, summary)
	if err != nil {
		return wrapErr("sessions.update_summary", err)
	}
	return expectAffected("sessions.update_summary", res)
}

// End marks a session as ended
func (r *SessionRepository) End(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET ended_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return wrapErr("sessions.end", err)
	}
	return expectAffected("sessions.end", res)
}

// Delete deletes a session and, through the foreign key, its messages
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return wrapErr("sessions.delete", err)
	}
	return expectAffected("sessions.delete", res)
}
