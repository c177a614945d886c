package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/agentx/chatbot-backend/internal/llm"
	"github.com/agentx/chatbot-backend/internal/models"
)

type fakeLLM struct {
	mu        sync.Mutex
	reply     string
	fragments []string
	err       error
	streamErr error
	openErr   error
	histories []string
	summary   string
	summaries int
}

func (f *fakeLLM) Prompt(history, input string) []llm.Message {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	f.mu.Unlock()
	msgs := []llm.Message{}
	if history != "" {
		msgs = append(msgs, llm.Message{Role: "user", Content: history})
	}
	return append(msgs, llm.Message{Role: "user", Content: input})
}

func (f *fakeLLM) Complete(_ context.Context, _ []llm.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) Stream(ctx context.Context, history, input string) (<-chan llm.Fragment, error) {
	f.Prompt(history, input)
	if f.openErr != nil {
		return nil, f.openErr
	}
	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		for _, text := range f.fragments {
			select {
			case out <- llm.Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if f.streamErr != nil {
			select {
			case out <- llm.Fragment{Err: f.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (f *fakeLLM) Summarize(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	if f.summary == "" {
		return "", errors.New("summarizer offline")
	}
	return f.summary, nil
}

func (f *fakeLLM) lastHistory() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return ""
	}
	return f.histories[len(f.histories)-1]
}

type fakeAuth struct {
	users map[string]*models.User
}

func (a *fakeAuth) ValidateAccessToken(_ context.Context, token string) (*models.User, error) {
	if u, ok := a.users[token]; ok {
		return u, nil
	}
	return nil, errors.New("invalid token")
}

type fakeConn struct {
	mu      sync.Mutex
	inbound chan string
	texts   []string
	jsons   []interface{}
	closed  bool
	code    int
	reason  string
	failing bool
}

func newFakeConn(messages ...string) *fakeConn {
	c := &fakeConn{inbound: make(chan string, len(messages))}
	for _, m := range messages {
		c.inbound <- m
	}
	close(c.inbound)
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	m, ok := <-c.inbound
	if !ok {
		return nil, errors.New("connection closed")
	}
	return []byte(m), nil
}

func (c *fakeConn) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jsons = append(c.jsons, v)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
	return nil
}

func (c *fakeConn) streamed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.texts, "")
}

func (c *fakeConn) payloads() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.jsons...)
}
