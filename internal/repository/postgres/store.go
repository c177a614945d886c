// Package postgres implements the repository contracts on PostgreSQL through
// sqlx. It works with either the lib/pq or the pgx stdlib driver.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/repository"
)

// Store implements repository.Store
type Store struct {
	db       *sqlx.DB
	users    *UserRepository
	sessions *SessionRepository
	messages *MessageRepository
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a store over an open connection pool
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:       db,
		users:    NewUserRepository(db),
		sessions: NewSessionRepository(db),
		messages: NewMessageRepository(db),
	}
}

func (s *Store) Users() repository.UserRepository       { return s.users }
func (s *Store) Sessions() repository.SessionRepository { return s.sessions }
func (s *Store) Messages() repository.MessageRepository { return s.messages }

// InTx runs fn inside a database transaction
func (s *Store) InTx(ctx context.Context, fn func(repository.Repositories) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("store.begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txRepositories{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage("store.commit", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}

type txRepositories struct {
	tx *sqlx.Tx
}

func (t txRepositories) Users() repository.UserRepository       { return NewUserRepository(t.tx) }
func (t txRepositories) Sessions() repository.SessionRepository { return NewSessionRepository(t.tx) }
func (t txRepositories) Messages() repository.MessageRepository { return NewMessageRepository(t.tx) }
