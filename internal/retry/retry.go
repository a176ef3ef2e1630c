// Package retry runs store operations with a bounded number of attempts and
// a fixed delay between them.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Callback is notified before each retry
type Callback func(err error, delay time.Duration)

// Policy returns the backoff used by Do: attempts-1 retries, delay apart,
// stopping once ctx is done
func Policy(ctx context.Context, attempts int, delay time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(backoff.WithContext(backoff.NewConstantBackOff(delay), ctx), uint64(attempts-1))
}

// Do calls fn up to attempts times, sleeping delay between failures.
// A permanent error ends the loop with the unwrapped error; a done context
// ends it with the context's error.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func() error, cb Callback) error {
	var notify backoff.Notify
	if cb != nil {
		notify = backoff.Notify(cb)
	}
	return backoff.RetryNotify(fn, Policy(ctx, attempts, delay), notify)
}
