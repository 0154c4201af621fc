package util

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
)

// RetryPolicy retries an operation with capped exponential backoff.
type RetryPolicy struct {
	// Total number of attempts, including the first.
	MaxAttempts uint          `validate:"gte=1"`
	BaseDelay   time.Duration `validate:"gte=0"`
	MaxDelay    time.Duration `validate:"gte=0"`
	// If set, only errors for which this returns true are retried.
	RetryIf func(error) bool `mapstructure:"-"`
	// Called after each failed attempt that will be retried.
	OnRetry func(attempt uint, err error) `mapstructure:"-"`
}

// Do calls action until it succeeds, the attempts are exhausted, a non-retryable error is returned,
// or ctx is cancelled. The returned error is the last error returned by action.
func (p RetryPolicy) Do(ctx context.Context, action func() error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.BaseDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.RetryIf != nil {
		opts = append(opts, retry.RetryIf(p.RetryIf))
	}
	if p.OnRetry != nil {
		opts = append(opts, retry.OnRetry(func(n uint, err error) {
			p.OnRetry(n+1, err)
		}))
	}
	return errors.WithStack(retry.Do(action, opts...))
}
