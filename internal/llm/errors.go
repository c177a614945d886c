package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/agentx/chatbot-backend/internal/apperr"
)

var (
	// ErrMissingAPIKey is returned when no provider credential is configured
	ErrMissingAPIKey = errors.New("LLM API key is not set")
	// ErrEmptyResponse is returned when the provider answers without content
	ErrEmptyResponse = errors.New("empty response from provider")
)

// ProviderError wraps an upstream LLM failure
type ProviderError struct {
	Op         string
	StatusCode int // 0 for transport failures
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes every ProviderError match apperr.ErrProvider
func (e *ProviderError) Is(target error) bool {
	return target == apperr.ErrProvider
}

// Temporary reports whether the failure is worth retrying: rate limits,
// server errors and transport failures.
func (e *ProviderError) Temporary() bool {
	if errors.Is(e.Err, ErrEmptyResponse) {
		return false
	}
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// classify converts a raw client error into the gateway taxonomy. Errors
// that are already classified are returned unchanged; caller cancellation
// is passed through as is.
func classify(op string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	var ae *apperr.Error
	if errors.As(err, &pe) || errors.As(err, &ae) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.E(apperr.ErrTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Op: op, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Op: op, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Op: op, Err: err}
}
