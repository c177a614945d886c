package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/chatbot-backend/internal/audit"
	"github.com/agentx/chatbot-backend/internal/models"
)

type realtimeFixture struct {
	*chatFixture
	registry *ConnectionRegistry
	realtime *RealtimeService
	hook     *test.Hook
	token    string
}

func newRealtimeFixture(t *testing.T) *realtimeFixture {
	t.Helper()

	f := newChatFixture(t, 100)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	user := f.user
	auth := &fakeAuth{users: map[string]*models.User{"alice-token": &user}}
	registry := NewConnectionRegistry()
	rt := NewRealtimeService(f.chat, auth, registry, audit.NewLogger(logger), logger)

	return &realtimeFixture{chatFixture: f, registry: registry, realtime: rt, hook: hook, token: "alice-token"}
}

func TestRealtimeStreamsAndPersists(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()
	f.llm.fragments = []string{"Hello", " Alice"}

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	conn := newFakeConn(`{"text":"Hi"}`)
	state := f.realtime.Serve(ctx, conn, session.ID.String(), f.token)

	assert.Equal(t, StateActive, state)
	assert.Equal(t, "Hello Alice", conn.streamed())
	assert.False(t, conn.closed)
	assert.Empty(t, conn.jsons)

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hi", messages[0].Content.Text)
	assert.Equal(t, "Hello Alice", messages[1].Content.Text)
}

func TestRealtimeInvalidTokenClosesBeforeLookup(t *testing.T) {
	f := newRealtimeFixture(t)

	conn := newFakeConn(`{"text":"Hi"}`)
	state := f.realtime.Serve(context.Background(), conn, uuid.NewString(), "bogus")

	assert.Equal(t, StateAuthenticating, state)
	assert.True(t, conn.closed)
	assert.Equal(t, ClosePolicyViolation, conn.code)
	assert.Equal(t, "authentication failed", conn.reason)
	assert.Empty(t, conn.texts)

	var rejected bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Data["event_type"] == string(audit.EventRealtimeReject) {
			rejected = true
			assert.Equal(t, "authentication failed", entry.Data["reason"])
		}
	}
	assert.True(t, rejected)
}

func TestRealtimeForeignSessionIsRejected(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()

	other := models.User{ID: uuid.New(), Username: "bob", Email: "bob@example.com", PasswordHash: "x"}
	require.NoError(t, f.store.Users().Create(ctx, &other))
	session, err := f.chat.CreateSession(ctx, other.ID)
	require.NoError(t, err)

	conn := newFakeConn(`{"text":"Hi"}`)
	state := f.realtime.Serve(ctx, conn, session.ID.String(), f.token)

	assert.Equal(t, StateAuthorized, state)
	assert.Equal(t, ClosePolicyViolation, conn.code)
	assert.Equal(t, "session not found", conn.reason)

	messages, err := f.store.Messages().ListBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRealtimeMalformedSessionID(t *testing.T) {
	f := newRealtimeFixture(t)

	conn := newFakeConn()
	state := f.realtime.Serve(context.Background(), conn, "not-a-uuid", f.token)
	assert.Equal(t, StateAuthorized, state)
	assert.Equal(t, ClosePolicyViolation, conn.code)
}

func TestRealtimeStorageFailureOnLookup(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	f.store.FailOn("sessions.get", errors.New("connection reset"))
	conn := newFakeConn()
	f.realtime.Serve(ctx, conn, session.ID.String(), f.token)
	assert.Equal(t, CloseInternalError, conn.code)
}

func TestRealtimeSkipsMalformedAndEmptyMessages(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()
	f.llm.fragments = []string{"ok"}

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	conn := newFakeConn(`not json`, `{"text":"  "}`, `{"other":1}`, `{"text":"Hi"}`)
	f.realtime.Serve(ctx, conn, session.ID.String(), f.token)

	assert.Equal(t, "ok", conn.streamed())
	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestRealtimeGenerationErrorIsReported(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()
	f.llm.openErr = errors.New("quota exceeded")

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	conn := newFakeConn(`{"text":"Hi"}`)
	f.realtime.Serve(ctx, conn, session.ID.String(), f.token)

	require.Len(t, conn.jsons, 1)
	assert.Equal(t, map[string]string{"error": "LLM error: quota exceeded"}, conn.jsons[0])

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRealtimeCommitFailureRollsBackAndContinues(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	conn := &fakeConn{inbound: make(chan string)}
	done := make(chan ConnState, 1)
	go func() {
		done <- f.realtime.Serve(ctx, conn, session.ID.String(), f.token)
	}()

	f.store.FailOn("sessions.update_summary", errors.New("disk full"))
	conn.inbound <- `{"text":"Hi"}`
	require.Eventually(t, func() bool { return len(conn.payloads()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]string{"error": "Failed to save messages: Internal server error"}, conn.payloads()[0])

	messages, err := f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// the loop keeps serving after the failed turn
	f.store.FailOn("sessions.update_summary", nil)
	conn.inbound <- `{"text":"Still there?"}`
	close(conn.inbound)

	select {
	case state := <-done:
		assert.Equal(t, StateActive, state)
	case <-time.After(time.Second):
		t.Fatal("realtime connection did not finish")
	}

	assert.Len(t, conn.payloads(), 1)
	assert.False(t, conn.closed)

	messages, err = f.chat.ListMessages(ctx, f.user.ID, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Still there?", messages[0].Content.Text)
}

func TestRealtimeUnregistersOnDisconnect(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	inbound := make(chan string)
	conn := &fakeConn{inbound: inbound}
	done := make(chan ConnState)
	go func() {
		done <- f.realtime.Serve(ctx, conn, session.ID.String(), f.token)
	}()

	assert.Eventually(t, func() bool { return f.registry.Count(session.ID) == 1 }, time.Second, 5*time.Millisecond)

	close(inbound)
	assert.Equal(t, StateActive, <-done)
	assert.Equal(t, 0, f.registry.Count(session.ID))
	assert.Empty(t, f.registry.Sessions())
}

func TestConnectionRegistryCloseAll(t *testing.T) {
	registry := NewConnectionRegistry()
	a, b := newFakeConn(), newFakeConn()
	sid := uuid.New()

	registry.Register(sid, a)
	registry.Register(sid, b)
	registry.Register(sid, a)
	assert.Equal(t, 2, registry.Count(sid))

	assert.Equal(t, 2, registry.CloseAll(CloseGoingAway, "server shutdown"))
	assert.Equal(t, CloseGoingAway, a.code)
	assert.Equal(t, CloseGoingAway, b.code)

	registry.Unregister(sid, a)
	registry.Unregister(sid, b)
	assert.Equal(t, 0, registry.Count(sid))
}

func TestRealtimeLogsStateTransitions(t *testing.T) {
	f := newRealtimeFixture(t)
	ctx := context.Background()

	session, err := f.chat.CreateSession(ctx, f.user.ID)
	require.NoError(t, err)

	f.realtime.Serve(ctx, newFakeConn(), session.ID.String(), f.token)

	var path []string
	for _, entry := range f.hook.AllEntries() {
		if entry.Message == "Realtime state change" {
			path = append(path, entry.Data["to"].(string))
		}
	}
	assert.Equal(t, []string{"authenticating", "authorized", "active", "closed"}, path)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}
