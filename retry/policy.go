// Package retry provides the retry policy shared by page fetches and sheet writes.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the wait before the next attempt. attempt is the
// 1-based number of the attempt that just failed.
type BackoffFunc func(attempt int, err error) time.Duration

// Policy describes how many times an operation runs and how long to wait in between.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// Retryable decides whether err may be retried. Nil retries every error.
	Retryable func(err error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Permanent wraps an error that must not be retried regardless of Retryable.
type Permanent struct {
	Err error
}

func (e Permanent) Error() string {
	return e.Err.Error()
}

func (e Permanent) Unwrap() error {
	return e.Err
}

// Fixed waits the same delay after every failure.
func Fixed(delay time.Duration) BackoffFunc {
	return func(int, error) time.Duration {
		return delay
	}
}

// Linear waits base + step*attempt.
func Linear(base, step time.Duration) BackoffFunc {
	return func(attempt int, _ error) time.Duration {
		if attempt <= 0 {
			attempt = 1
		}
		return base + step*time.Duration(attempt)
	}
}

// Exponential doubles base per attempt, capped at max when max > 0.
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int, _ error) time.Duration {
		if attempt <= 0 {
			attempt = 1
		}
		if base <= 0 {
			base = 100 * time.Millisecond
		}
		delay := base * time.Duration(1<<(attempt-1))
		if max > 0 && delay > max {
			delay = max
		}
		return delay
	}
}

// Do runs fn until it succeeds, the error is not retryable, attempts run out
// or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var permanent Permanent
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
