// Package llm is the single entry point to the language model provider.
// It speaks the OpenAI chat completions protocol, which lets the same client
// target OpenAI or any compatible endpoint such as Gemini's.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/metrics"
)

// Message roles
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Config holds provider settings
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	SystemPrompt   string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Message is one chat message sent to the provider
type Message struct {
	Role    string
	Content string
}

// Fragment is one piece of a streamed reply. A fragment carrying Err is
// always the last one on the channel.
type Fragment struct {
	Text string
	Err  error
}

// Gateway calls the provider with bounded waits and retries
type Gateway struct {
	cfg    Config
	client *openai.Client
	logger *logrus.Logger
}

// NewGateway creates a gateway. A missing API key is not an error here; every
// call reports it instead so the service can start without credentials.
func NewGateway(cfg Config, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	g := &Gateway{cfg: cfg, logger: logger}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		g.client = openai.NewClientWithConfig(clientCfg)
	}
	return g
}

// ValidateConfig reports whether the gateway can reach a provider
func (g *Gateway) ValidateConfig() error {
	if g.client == nil {
		return apperr.E(apperr.ErrConfiguration, "llm", ErrMissingAPIKey)
	}
	if g.cfg.Model == "" {
		return apperr.E(apperr.ErrConfiguration, "llm", errors.New("model is not set"))
	}
	return nil
}

// Prompt builds the message list for a reply: the optional system prompt,
// the memory context as a prior assistant-visible block, and the new input.
func (g *Gateway) Prompt(history, input string) []Message {
	messages := make([]Message, 0, 3)
	if g.cfg.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: g.cfg.SystemPrompt})
	}
	if history = strings.TrimSpace(history); history != "" {
		messages = append(messages, Message{Role: RoleUser, Content: history})
	}
	return append(messages, Message{Role: RoleUser, Content: input})
}

// Complete returns the full reply to messages
func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, error) {
	return g.complete(ctx, "complete", messages)
}

// Summarize compresses a conversation. It satisfies memory.Summarizer.
func (g *Gateway) Summarize(ctx context.Context, prompt string) (string, error) {
	return g.complete(ctx, "summarize", []Message{{Role: RoleUser, Content: prompt}})
}

func (g *Gateway) complete(ctx context.Context, operation string, messages []Message) (string, error) {
	op := "llm." + operation
	if err := g.ValidateConfig(); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(operation, "config_error").Inc()
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	req := g.request(messages, false)
	text, err := withRetry(ctx, g.logger, op, g.cfg.MaxRetries, g.cfg.RetryBaseDelay, func() (string, error) {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classify(op, ctx, err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", &ProviderError{Op: op, Err: ErrEmptyResponse}
		}
		return resp.Choices[0].Message.Content, nil
	})
	metrics.LLMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		err = classify(op, ctx, err)
		metrics.LLMRequestsTotal.WithLabelValues(operation, outcome(err)).Inc()
		g.logger.WithFields(logrus.Fields{
			"op":    op,
			"model": g.cfg.Model,
		}).WithError(err).Error("LLM call failed")
		return "", err
	}

	metrics.LLMRequestsTotal.WithLabelValues(operation, "success").Inc()
	return text, nil
}

// Stream starts a streamed reply to input given the memory context. Opening
// the stream is retried on transient failures; once fragments flow, an error
// ends the stream with a final error fragment. Cancelling ctx stops the
// stream and closes the channel without an error fragment.
func (g *Gateway) Stream(ctx context.Context, history, input string) (<-chan Fragment, error) {
	const op = "llm.stream"
	if err := g.ValidateConfig(); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("stream", "config_error").Inc()
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)

	start := time.Now()
	req := g.request(g.Prompt(history, input), true)
	stream, err := withRetry(ctx, g.logger, op, g.cfg.MaxRetries, g.cfg.RetryBaseDelay, func() (*openai.ChatCompletionStream, error) {
		s, err := g.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, classify(op, ctx, err)
		}
		return s, nil
	})
	if err != nil {
		err = classify(op, ctx, err)
		cancel()
		metrics.LLMRequestsTotal.WithLabelValues("stream", outcome(err)).Inc()
		g.logger.WithField("op", op).WithError(err).Error("Failed to open LLM stream")
		return nil, err
	}

	fragments := make(chan Fragment)
	go func() {
		defer close(fragments)
		defer cancel()
		defer stream.Close()

		finish := func(err error) {
			metrics.LLMRequestDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
			metrics.LLMRequestsTotal.WithLabelValues("stream", outcome(err)).Inc()
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			g.logger.WithField("op", op).WithError(err).Error("LLM stream failed")
			// the consumer may still be reading; only its own cancellation releases us
			select {
			case fragments <- Fragment{Err: err}:
			case <-parent.Done():
			}
		}

		received := 0
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if received == 0 {
					finish(&ProviderError{Op: op, Err: ErrEmptyResponse})
					return
				}
				finish(nil)
				return
			}
			if err != nil {
				if parent.Err() != nil {
					finish(context.Canceled)
					return
				}
				finish(classify(op, ctx, err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}

			received++
			select {
			case fragments <- Fragment{Text: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				if parent.Err() != nil {
					finish(context.Canceled)
					return
				}
				finish(apperr.E(apperr.ErrTimeout, op, ctx.Err()))
				return
			}
		}
	}()

	return fragments, nil
}

func (g *Gateway) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Stream:      stream,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return req
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, apperr.ErrTimeout):
		return "timeout"
	case errors.Is(err, apperr.ErrConfiguration):
		return "config_error"
	default:
		return "provider_error"
	}
}
