package failure

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxAttempts bounds automatic retries of retryable failures.
const MaxAttempts = 3

// RetryPolicy configures Retry.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the bounded policy used for reads and uploads.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        MaxAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     4 * time.Second,
	}
}

// Retry runs op until it succeeds, fails with a non-retryable failure, or the
// attempt bound is reached. The returned error is always classified.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts <= 0 || attempts > MaxAttempts {
		attempts = MaxAttempts
	}

	exp := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	var last *Error
	err := backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = Classify(err)
		if !last.Retryable {
			return backoff.Permanent(last)
		}
		return last
	}, b)
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return Classify(err)
}
