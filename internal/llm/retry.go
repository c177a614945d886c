package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/metrics"
)

// withRetry runs fn until it succeeds, fails permanently or maxRetries
// retries have been spent. Only temporary provider errors are retried.
func withRetry[T any](ctx context.Context, logger *logrus.Logger, op string, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = 10 * baseDelay

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}

		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.Temporary() {
			return v, backoff.Permanent(err)
		}
		if attempt > maxRetries {
			return v, err
		}

		metrics.LLMRetriesTotal.Inc()
		logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"status":  pe.StatusCode,
		}).WithError(err).Warn("Retrying LLM call")
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxRetries+1)))
}
