// Package retry implements the shared backoff policy for outbound calls:
// at least three attempts, exponential backoff with jitter, and no retries
// on authentication failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"finanzas/pkg/apperr"
)

// Policy controls retry behavior.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the shared default: 3 attempts, 1s base.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Permanent wraps an error so Do stops retrying immediately.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the policy is exhausted, or the error is
// permanent. Auth errors are always permanent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << (attempt - 1)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
			delay += time.Duration(rand.Int63n(int64(p.BaseDelay)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if apperr.IsCode(err, apperr.CodeAuthFailed) {
			return err
		}
	}
	return err
}
