package loader

import (
	"context"
	"errors"
	"time"

	"newsletter-indexer/internal/logging"
)

// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// RetryWithBackoff runs operation up to maxAttempts times, doubling baseDelay after
// each failure. It returns the error from the last attempt, or the context error
// if ctx ends first.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				logging.Log.Debugf("Operation succeeded on attempt %d", attempt)
			}
			return nil
		}

		logging.Log.WithError(lastErr).Debugf("Attempt %d/%d failed", attempt, maxAttempts)

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}
