package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/llm"
	"github.com/agentx/chatbot-backend/internal/memory"
	"github.com/agentx/chatbot-backend/internal/models"
	"github.com/agentx/chatbot-backend/internal/repository/memstore"
)

type chatFixture struct {
	store *memstore.Store
	llm   *fakeLLM
	chat  *ChatService
	user  models.User
}

func newChatFixture(t *testing.T, limit int) *chatFixture {
	t.Helper()

	store := memstore.New()
	fake := &fakeLLM{reply: "Hello! How can I help?", summary: "They greeted each other."}
	mem := memory.NewManager(fake, memory.WithMaxTokenLimit(limit))
	chat := NewChatService(store, fake, mem, nil, nil)

	user := models.User{ID: uuid.New(), Username: "alice", Email: "alice@example.com", PasswordHash: "x", CreatedAt: time.Now()}
	require.NoError(t, store.Users().Create(context.Background(), &user))

	return &chatFixture{store: store, llm: fake, chat: chat, user: user}
}

func TestCreateAndListSessions(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.chat.now = func() time.Time { return base }
	first, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)
	f.chat.now = func() time.Time { return base.Add(time.Minute) }
	second, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	assert.True(t, first.OwnedBy(f.user.ID))
	assert.Nil(t, first.Summary)

	sessions, err := f.chat.ListSessions(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)
}

func TestPostMessagePersistsTurn(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	bot, err := f.chat.PostMessage(ctx, f.user.ID, session.ID, "Hi")
	require.NoError(t, err)
	assert.Equal(t, models.SenderBot, bot.Sender)
	assert.Equal(t, "Hello! How can I help?", bot.Content.Text)
	assert.Equal(t, "", f.llm.lastHistory())

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.SenderUser, messages[0].Sender)
	assert.Equal(t, "Hi", messages[0].Content.Text)
	assert.Equal(t, models.SenderBot, messages[1].Sender)
	assert.True(t, messages[1].Timestamp.After(messages[0].Timestamp))

	// the next turn sees the first one as context
	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Tell me more")
	require.NoError(t, err)
	assert.Equal(t, "User: Hi\nAI: Hello! How can I help?", f.llm.lastHistory())
}

func TestPostMessageOrdersTurnAtMicrosecondPrecision(t *testing.T) {
	f := newChatFixture(t, 1000)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		// 200ns ticks: both stamps of the turn fall in the same microsecond
		base := start.Add(time.Duration(i)*time.Millisecond + 300*time.Nanosecond)
		calls := 0
		f.chat.now = func() time.Time {
			t := base.Add(time.Duration(calls) * 200 * time.Nanosecond)
			calls++
			return t
		}

		_, err := f.chat.PostMessage(ctx, f.user.ID, session.ID, "ping")
		require.NoError(t, err)
	}

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 40)
	for i := 0; i < len(messages); i += 2 {
		user, bot := messages[i], messages[i+1]
		assert.Equal(t, models.SenderUser, user.Sender)
		assert.Equal(t, models.SenderBot, bot.Sender)
		assert.Equal(t, user.Timestamp, user.Timestamp.Truncate(time.Microsecond))
		assert.Equal(t, bot.Timestamp, bot.Timestamp.Truncate(time.Microsecond))
		assert.True(t, bot.Timestamp.Truncate(time.Microsecond).After(user.Timestamp.Truncate(time.Microsecond)),
			"turn %d: bot %s not after user %s", i/2, bot.Timestamp, user.Timestamp)
	}
}

func TestPostMessageRejectsEmptyText(t *testing.T) {
	f := newChatFixture(t, 100)
	session, err := f.chat.CreateSession(context.Background(), f.user.ID)
	require.NoError(t, err)

	_, err = f.chat.PostMessage(context.Background(), f.user.ID, session.ID, "   ")
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
	assert.Equal(t, "message text is required", apperr.PublicMessage(err))
}

func TestForeignSessionIsNotFound(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = f.chat.GetSession(ctx, stranger, session.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.chat.PostMessage(ctx, stranger, session.ID, "Hi")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = f.chat.DeleteSession(ctx, stranger, session.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.chat.GetSession(ctx, f.user.ID, session.ID)
	assert.NoError(t, err)
}

func TestCompressionAfterLimit(t *testing.T) {
	f := newChatFixture(t, 5)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	// "Hi" plus a four word reply stays within five words
	f.llm.reply = "Hello there, how are"
	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Hi")
	require.NoError(t, err)
	assert.Equal(t, 0, f.llm.summaries)

	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Fine")
	require.NoError(t, err)
	assert.Equal(t, 1, f.llm.summaries)

	stored, err := f.chat.GetSession(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "\n[Summary #1]: They greeted each other.", stored.Summary.Text)
	assert.Equal(t, 1, stored.Summary.Count)
	assert.Equal(t, 4, stored.Summary.Covered)

	// the rolling history is empty after compression
	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Bye")
	require.NoError(t, err)
	assert.Equal(t, "[Summary #1]: They greeted each other.", f.llm.lastHistory())
}

func TestCompressionFailureKeepsTurn(t *testing.T) {
	f := newChatFixture(t, 1)
	f.llm.summary = ""
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Hi")
	require.NoError(t, err)
	assert.Equal(t, 1, f.llm.summaries)

	stored, err := f.chat.GetSession(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "", stored.Summary.Text)

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	f.store.FailOn("sessions.update_summary", errors.New("disk full"))
	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Hi")
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	assert.Equal(t, 500, apperr.HTTPStatus(err))

	f.store.FailOn("sessions.update_summary", nil)
	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestGenerationFailureIsNotPersisted(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	f.llm.err = &llm.ProviderError{Op: "complete", StatusCode: 503, Err: errors.New("unavailable")}
	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Hi")
	assert.True(t, errors.Is(err, apperr.ErrProvider))

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStreamTurnPersistsFullReply(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.llm.fragments = []string{"Hel", "lo", "!"}

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	var sent []string
	bot, err := f.chat.StreamTurn(ctx, f.user.ID, session.ID, "Hi", func(s string) error {
		sent = append(sent, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", "!"}, sent)
	assert.Equal(t, "Hello!", bot.Content.Text)
}

func TestStreamTurnDroppedClientKeepsPartialReply(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.llm.fragments = []string{"Hel", "lo", "!"}

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	bot, err := f.chat.StreamTurn(ctx, f.user.ID, session.ID, "Hi", func(string) error {
		return errors.New("broken pipe")
	})
	require.NoError(t, err)
	require.NotNil(t, bot)
	assert.Equal(t, "Hel", bot.Content.Text)

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestStreamTurnGenerationError(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	f.llm.fragments = []string{"partial"}
	f.llm.streamErr = errors.New("stream reset")

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	_, err = f.chat.StreamTurn(ctx, f.user.ID, session.ID, "Hi", func(string) error { return nil })
	assert.True(t, errors.Is(err, ErrGeneration))
	assert.True(t, strings.Contains(err.Error(), "stream reset"))

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestEndAndDeleteSession(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)
	_, err = f.chat.PostMessage(ctx, f.user.ID, session.ID, "Hi")
	require.NoError(t, err)

	ended, err := f.chat.EndSession(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)

	require.NoError(t, f.chat.DeleteSession(ctx, f.user.ID, session.ID))
	_, err = f.chat.GetSession(ctx, f.user.ID, session.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	messages, err := f.store.Messages().ListBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
