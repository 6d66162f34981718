package background

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidMaxAttempts is returned when Retry is called with no attempts
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than zero")

// Retry runs operation up to maxAttempts times, doubling the delay after
// each failure starting from baseDelay. It returns the last error.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, operation func() error) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
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
