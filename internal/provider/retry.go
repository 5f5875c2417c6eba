package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded retry budget with a linear delay: the wait before
// attempt n (1-based) is (n-1) × BaseDelay. Attempt 1 never waits.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultDetectionRetry is the detection client's budget.
var DefaultDetectionRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Delay returns the wait that precedes the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(attempt-1) * p.BaseDelay
}

// linearBackOff implements backoff.BackOff over RetryPolicy.Delay.
type linearBackOff struct {
	policy RetryPolicy
	n      int
}

// NextBackOff is called after failed attempt n and returns the wait before n+1.
func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.policy.Delay(b.n + 1)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the budget is spent
// or ctx is done. notify (optional) is called after every failed attempt that
// will be retried, with the wait before the next one. It returns the number of
// attempts made and the last error.
func (p RetryPolicy) Do(
	ctx context.Context,
	op func(ctx context.Context, attempt int) error,
	notify func(attempt int, err error, wait time.Duration),
) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var b backoff.BackOff = &linearBackOff{policy: p}
	b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx, attempt)
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	return attempt, err
}
