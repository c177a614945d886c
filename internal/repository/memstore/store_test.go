package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/models"
	"github.com/agentx/chatbot-backend/internal/repository"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) (models.User, models.Session) {
	t.Helper()
	ctx := context.Background()
	user := models.User{ID: uuid.New(), Username: "alice", Email: "alice@x.io", PasswordHash: "h", CreatedAt: now}
	require.NoError(t, s.Users().Create(ctx, &user))
	session := models.Session{ID: uuid.New(), UserID: uuid.NullUUID{UUID: user.ID, Valid: true}, StartedAt: now}
	require.NoError(t, s.Sessions().Create(ctx, &session))
	return user, session
}

func TestDuplicateEmail(t *testing.T) {
	s := New()
	seed(t, s)

	err := s.Users().Create(context.Background(), &models.User{ID: uuid.New(), Email: "ALICE@x.io"})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))
}

func TestSessionsAreOwnerScoped(t *testing.T) {
	s := New()
	user, session := seed(t, s)

	got, err := s.Sessions().GetForUser(context.Background(), session.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = s.Sessions().GetForUser(context.Background(), session.ID, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListByUserNewestFirst(t *testing.T) {
	s := New()
	user, first := seed(t, s)
	second := models.Session{ID: uuid.New(), UserID: first.UserID, StartedAt: now.Add(time.Hour)}
	require.NoError(t, s.Sessions().Create(context.Background(), &second))

	sessions, err := s.Sessions().ListByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)
}

func TestInTxRollsBackEverything(t *testing.T) {
	s := New()
	_, session := seed(t, s)
	ctx := context.Background()

	err := s.InTx(ctx, func(r repository.Repositories) error {
		m := models.NewMessage(session.ID, models.SenderUser, "Hi", now)
		if err := r.Messages().Create(ctx, &m); err != nil {
			return err
		}
		if err := r.Sessions().UpdateSummary(ctx, session.ID, models.Summary{Text: "x"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	messages, err := s.Messages().ListBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	got, err := s.Sessions().GetForUser(ctx, session.ID, session.UserID.UUID)
	require.NoError(t, err)
	assert.Nil(t, got.Summary)
}

func TestInTxRollsBackOnPanic(t *testing.T) {
	s := New()
	_, session := seed(t, s)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.InTx(ctx, func(r repository.Repositories) error {
			m := models.NewMessage(session.ID, models.SenderUser, "Hi", now)
			_ = r.Messages().Create(ctx, &m)
			panic("boom")
		})
	})

	messages, err := s.Messages().ListBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestFailOnInjectsStorageError(t *testing.T) {
	s := New()
	_, session := seed(t, s)
	ctx := context.Background()
	s.FailOn("messages.create", errors.New("disk full"))

	m := models.NewMessage(session.ID, models.SenderUser, "Hi", now)
	err := s.Messages().Create(ctx, &m)
	assert.True(t, errors.Is(err, apperr.ErrStorage))

	s.FailOn("messages.create", nil)
	assert.NoError(t, s.Messages().Create(ctx, &m))
}

func TestDeleteSessionCascadesMessages(t *testing.T) {
	s := New()
	_, session := seed(t, s)
	ctx := context.Background()
	m := models.NewMessage(session.ID, models.SenderUser, "Hi", now)
	require.NoError(t, s.Messages().Create(ctx, &m))

	require.NoError(t, s.Sessions().Delete(ctx, session.ID))

	messages, err := s.Messages().ListBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.True(t, errors.Is(s.Sessions().Delete(ctx, session.ID), apperr.ErrNotFound))
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	s := New()
	_, session := seed(t, s)
	ctx := context.Background()
	later := models.NewMessage(session.ID, models.SenderBot, "second", now.Add(time.Second))
	earlier := models.NewMessage(session.ID, models.SenderUser, "first", now)
	require.NoError(t, s.Messages().Create(ctx, &later))
	require.NoError(t, s.Messages().Create(ctx, &earlier))

	messages, err := s.Messages().ListBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content.Text)
	assert.Equal(t, "second", messages[1].Content.Text)
}
