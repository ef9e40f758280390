package utils

import (
	"context"
	"time"
)

// Retry retries fn up to maxAttempts with exponential backoff.
// It stops early when fn succeeds, when retryable reports false, or when ctx is done.
func Retry[T any](ctx context.Context, maxAttempts int, initialDelay time.Duration, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2 // Exponential backoff
	}
	return zero, lastErr
}
