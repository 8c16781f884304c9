// Package retry runs critical writes with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// newTimer supplies the timer for the waits between attempts. nil selects
// backoff's own.
var newTimer = func() backoff.Timer { return nil }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Policy doubles the delay from base on every retry, without jitter, and
// stops after attempts calls in total or when ctx is done.
func Policy(ctx context.Context, attempts int, base time.Duration) backoff.BackOffContext {
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do calls op up to attempts times. It stops early on success, on a Permanent
// error, or when ctx is cancelled.
func Do(ctx context.Context, attempts int, base time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var (
		calls     int
		last      error
		permanent bool
	)
	err := backoff.RetryNotifyWithTimer(func() error {
		calls++
		err := op(ctx)
		if err != nil {
			var pe *backoff.PermanentError
			permanent = errors.As(err, &pe)
			last = err
		}
		return err
	}, Policy(ctx, attempts, base), nil, newTimer())

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case calls < attempts:
		return fmt.Errorf("retry interrupted after %d attempts: %w", calls, last)
	default:
		return &ExhaustedError{Attempts: calls, Last: last}
	}
}
