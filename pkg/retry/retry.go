package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// Func is an operation that can be attempted more than once
type Func func(ctx context.Context) error

// Config controls Do
type Config struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	// RetryableErrors restricts retries to errors matching one of these.
	// When empty every error is retried.
	RetryableErrors []error
}

// ErrExhausted wraps the last error once every attempt has failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Do runs fn until it succeeds, a non-retryable error is returned, the
// attempts run out, or ctx is cancelled.
func Do(ctx context.Context, cfg *Config, fn Func) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr, cfg.RetryableErrors) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("Non-retryable error, giving up", "error", lastErr, "attempt", attempt)
			}
			return lastErr
		}

		if attempt == attempts {
			break
		}

		wait := time.Duration(0)
		if cfg.BackoffStrategy != nil {
			wait = cfg.BackoffStrategy.NextBackoff(attempt)
		}

		if cfg.Logger != nil {
			cfg.Logger.Info("Retrying after error",
				"error", lastErr,
				"attempt", attempt,
				"maxAttempts", attempts,
				"backoff", wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func shouldRetry(err error, retryable []error) bool {
	if len(retryable) == 0 {
		return true
	}

	for _, target := range retryable {
		if errors.Is(err, target) {
			return true
		}
	}

	return apperrors.IsRetryable(err)
}
