// Package retry provides the bounded-retry primitive used for remote
// command execution: a fixed attempt budget with a fixed inter-attempt
// delay, no backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy is a fixed attempt budget with a fixed delay between attempts.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay is the pause between consecutive attempts.
	Delay time.Duration

	// OnRetry, if set, is called after each failed attempt that will be
	// retried, with the 1-based attempt number and its error.
	OnRetry func(attempt int, err error)
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops immediately instead of consuming the
// remaining attempt budget. Used for failures where retrying cannot help,
// e.g. a command that ran and exited non-zero.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op up to p.Attempts times, sleeping p.Delay between attempts.
// It returns nil on the first success, the unwrapped error for a Permanent
// failure, or the last attempt's error once the budget is exhausted.
// Cancelling ctx aborts the wait and returns the context error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == p.Attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
