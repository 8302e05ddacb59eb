package util

import (
	"context"
	"time"
)

// maxRetryDelay caps the backoff between attempts so long-running reconnect
// loops keep probing at a sane interval.
const maxRetryDelay = 30 * time.Second

// Retry runs fn until it succeeds, making at most maxAttempts calls and
// doubling the pause between them from baseDelay up to maxRetryDelay. When
// every attempt fails the error from the final call is returned. A cancelled
// context aborts the wait between attempts and returns ctx.Err().
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return err
}
