package ledger

import (
	"context"
	"errors"
	"time"
)

// BackoffPolicy computes the delay before a retry attempt: Base doubled per
// attempt, so attempt 0 waits Base, attempt 1 waits 2*Base, and so on.
type BackoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// MaxAttempts bounds the number of retries after the initial call.
	MaxAttempts int
}

// DefaultBackoff matches the upstream rate-limit guidance: 1s base, five
// retries.
var DefaultBackoff = BackoffPolicy{Base: time.Second, MaxAttempts: 5}

// Delay returns the wait before retry attempt n (zero-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.Base << attempt
}

// retryRateLimited runs fn, retrying per policy while it fails with
// ErrRateLimited. Any other error is returned as-is. onRetry, if set, is
// called once per retry (metrics hook). When the attempt budget is spent the
// last rate-limit failure is reported as ErrRateLimitExceeded.
func retryRateLimited(ctx context.Context, policy BackoffPolicy, onRetry func(), fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return ErrRateLimitExceeded
		}
		if onRetry != nil {
			onRetry()
		}

		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
