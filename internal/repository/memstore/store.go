// Package memstore is an in-process implementation of the repository
// contracts. It keeps the relational rules of the SQL schema (unique email,
// cascade on session delete, owner set to NULL on user delete) and gives
// transactions all-or-nothing semantics by snapshotting the data set.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/models"
	"github.com/agentx/chatbot-backend/internal/repository"
)

// Store implements repository.Store in memory
type Store struct {
	mu       sync.Mutex
	data     *dataset
	failures map[string]error
}

var _ repository.Store = (*Store)(nil)

type dataset struct {
	users    map[uuid.UUID]models.User
	sessions map[uuid.UUID]models.Session
	messages map[uuid.UUID]models.Message
}

func newDataset() *dataset {
	return &dataset{
		users:    make(map[uuid.UUID]models.User),
		sessions: make(map[uuid.UUID]models.Session),
		messages: make(map[uuid.UUID]models.Message),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.sessions {
		c.sessions[k] = copySession(v)
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	return c
}

// New creates an empty store
func New() *Store {
	return &Store{data: newDataset(), failures: make(map[string]error)}
}

// FailOn makes the named operation (for example "messages.create") fail with
// a storage error wrapping err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) Users() repository.UserRepository       { return &userRepo{view{store: s}} }
func (s *Store) Sessions() repository.SessionRepository { return &sessionRepo{view{store: s}} }
func (s *Store) Messages() repository.MessageRepository { return &messageRepo{view{store: s}} }

// InTx serializes transactions and restores the snapshot taken at begin when
// fn fails or panics.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("store.begin", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
	}()

	if err := fn(txRepositories{view{store: s, locked: true}}); err != nil {
		return err
	}
	if err := s.failure("store.commit"); err != nil {
		return err
	}
	committed = true
	return nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

// failure must be called with s.mu held
func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return apperr.Storage(op, err)
	}
	return nil
}

type txRepositories struct {
	v view
}

func (t txRepositories) Users() repository.UserRepository       { return &userRepo{t.v} }
func (t txRepositories) Sessions() repository.SessionRepository { return &sessionRepo{t.v} }
func (t txRepositories) Messages() repository.MessageRepository { return &messageRepo{t.v} }

// view runs operations against the store, taking the lock unless the
// enclosing transaction already holds it
type view struct {
	store  *Store
	locked bool
}

func (v view) do(op string, fn func(*dataset) error) error {
	if !v.locked {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	if err := v.store.failure(op); err != nil {
		return err
	}
	return fn(v.store.data)
}

type userRepo struct{ v view }

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	return r.v.do("users.create", func(d *dataset) error {
		for _, u := range d.users {
			if strings.EqualFold(u.Email, user.Email) {
				return apperr.E(apperr.ErrInvalid, "users.create",
					fmt.Errorf("%w: email %s", repository.ErrDuplicate, user.Email))
			}
		}
		d.users[user.ID] = *user
		return nil
	})
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	err := r.v.do("users.get", func(d *dataset) error {
		u, ok := d.users[id]
		if !ok {
			return apperr.E(apperr.ErrNotFound, "users.get", nil)
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	var out *models.User
	err := r.v.do("users.get_by_email", func(d *dataset) error {
		for _, u := range d.users {
			if strings.EqualFold(u.Email, email) {
				u := u
				out = &u
				return nil
			}
		}
		return apperr.E(apperr.ErrNotFound, "users.get_by_email", nil)
	})
	return out, err
}

type sessionRepo struct{ v view }

func (r *sessionRepo) Create(_ context.Context, session *models.Session) error {
	return r.v.do("sessions.create", func(d *dataset) error {
		if session.UserID.Valid {
			if _, ok := d.users[session.UserID.UUID]; !ok {
				return apperr.Storage("sessions.create", fmt.Errorf("user %s does not exist", session.UserID.UUID))
			}
		}
		d.sessions[session.ID] = copySession(*session)
		return nil
	})
}

func (r *sessionRepo) GetForUser(_ context.Context, id, userID uuid.UUID) (*models.Session, error) {
	var out *models.Session
	err := r.v.do("sessions.get", func(d *dataset) error {
		s, ok := d.sessions[id]
		if !ok || !s.OwnedBy(userID) {
			return apperr.E(apperr.ErrNotFound, "sessions.get", nil)
		}
		c := copySession(s)
		out = &c
		return nil
	})
	return out, err
}

func (r *sessionRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Session, error) {
	out := []models.Session{}
	err := r.v.do("sessions.list", func(d *dataset) error {
		for _, s := range d.sessions {
			if s.OwnedBy(userID) {
				out = append(out, copySession(s))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, err
}

func (r *sessionRepo) UpdateSummary(_ context.Context, id uuid.UUID, summary models.Summary) error {
	return r.v.do("sessions.update_summary", func(d *dataset) error {
		s, ok := d.sessions[id]
		if !ok {
			return apperr.E(apperr.ErrNotFound, "sessions.update_summary", nil)
		}
		s.Summary = &summary
		d.sessions[id] = s
		return nil
	})
}

func (r *sessionRepo) End(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.v.do("sessions.end", func(d *dataset) error {
		s, ok := d.sessions[id]
		if !ok {
			return apperr.E(apperr.ErrNotFound, "sessions.end", nil)
		}
		s.EndedAt = &at
		d.sessions[id] = s
		return nil
	})
}

func (r *sessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.v.do("sessions.delete", func(d *dataset) error {
		if _, ok := d.sessions[id]; !ok {
			return apperr.E(apperr.ErrNotFound, "sessions.delete", nil)
		}
		delete(d.sessions, id)
		for mid, m := range d.messages {
			if m.SessionID.Valid && m.SessionID.UUID == id {
				delete(d.messages, mid)
			}
		}
		return nil
	})
}

type messageRepo struct{ v view }

func (r *messageRepo) Create(_ context.Context, message *models.Message) error {
	return r.v.do("messages.create", func(d *dataset) error {
		if !message.Sender.Valid() {
			return apperr.Storage("messages.create", fmt.Errorf("%w: %q", models.ErrUnknownSender, message.Sender))
		}
		if message.SessionID.Valid {
			if _, ok := d.sessions[message.SessionID.UUID]; !ok {
				return apperr.Storage("messages.create", fmt.Errorf("session %s does not exist", message.SessionID.UUID))
			}
		}
		d.messages[message.ID] = *message
		return nil
	})
}

func (r *messageRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Message, error) {
	out := []models.Message{}
	err := r.v.do("messages.list", func(d *dataset) error {
		for _, m := range d.messages {
			if m.SessionID.Valid && m.SessionID.UUID == sessionID {
				out = append(out, m)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, err
}

func copySession(s models.Session) models.Session {
	if s.Summary != nil {
		summary := *s.Summary
		s.Summary = &summary
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		s.EndedAt = &ended
	}
	return s
}
