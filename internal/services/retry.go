package services

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetrySettings configures caller-side backoff for transient faults.
type RetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func normalizeRetrySettings(s RetrySettings) RetrySettings {
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = 50 * time.Millisecond
	}
	if s.MaxDelay < s.BaseDelay {
		s.MaxDelay = s.BaseDelay
	}
	return s
}

// NewTransientRetryPolicy retries only errors classified as transient and
// returns the last failure unwrapped once attempts are exhausted.
func NewTransientRetryPolicy[T any](s RetrySettings) retrypolicy.RetryPolicy[T] {
	s = normalizeRetrySettings(s)
	return retrypolicy.NewBuilder[T]().
		WithBackoff(s.BaseDelay, s.MaxDelay).
		WithMaxRetries(s.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ T, err error) bool {
			return IsTransient(err)
		}).
		ReturnLastFailure().
		Build()
}

// RetryTransient runs fn under policy, honouring ctx cancellation between attempts.
func RetryTransient[T any](ctx context.Context, policy retrypolicy.RetryPolicy[T], fn func() (T, error)) (T, error) {
	return failsafe.With[T](policy).WithContext(ctx).Get(fn)
}
