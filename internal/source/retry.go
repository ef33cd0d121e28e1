package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64

	// Sleep waits between attempts. Nil uses a timer that returns early
	// when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetry is 5 attempts, starting at 2s and doubling.
var DefaultRetry = RetryPolicy{MaxAttempts: 5, Initial: 2 * time.Second, Multiplier: 2}

// Retry runs fn until it succeeds or the attempts are exhausted, and returns
// the last error.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := p.Initial
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: %w", op, perm.err)
		}
		if attempt == attempts {
			break
		}
		slog.Warn("retrying", "op", op, "attempt", attempt, "delay", delay, "error", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w (last error: %v)", op, err, lastErr)
		}
		delay = time.Duration(float64(delay) * mult)
	}
	return fmt.Errorf("%s: %d attempts failed: %w", op, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
