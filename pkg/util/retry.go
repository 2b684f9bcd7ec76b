package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first success or the last error. Context
// cancellation between attempts returns ctx.Err().
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryNotify(ctx, maxAttempts, baseDelay, fn, nil)
}

// RetryNotify is Retry with a callback after every failed attempt.
func RetryNotify(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error, notify func(attempt int, err error)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if notify != nil {
			notify(attempt, err)
		}
		if attempt == maxAttempts {
			break
		}
		if delay <= 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
