package policeuk

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mfleming85/beatcal/internal/police"
)

// RetryPolicy retries temporary fetch failures with exponential backoff and
// jitter. Permanent failures return immediately; exhausting the attempt
// budget surfaces an Exhausted error wrapping the last cause.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the upstream's documented tolerances: three
// attempts, doubling from 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. op must classify its own failures as *police.FetchError with class
// Temporary or Permanent; Do fills in the attempt count on the terminal
// error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var last *police.FetchError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var fe *police.FetchError
		if !errors.As(err, &fe) {
			// Unclassified errors are treated as permanent; retrying an
			// unknown failure mode risks hammering the upstream.
			fe = &police.FetchError{Class: police.ClassPermanent, Cause: err}
		}
		fe.Attempts = attempt
		if !fe.Temporary() {
			return fe
		}
		last = fe

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			return &police.FetchError{
				Class:    police.ClassExhausted,
				Attempts: attempt,
				Cause:    fmt.Errorf("%w (after %v)", ctx.Err(), last.Cause),
			}
		}
	}
	return &police.FetchError{Class: police.ClassExhausted, Attempts: maxAttempts, Cause: last.Cause}
}

// backoff doubles the base delay per attempt and adds up to 25% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	return d + jitter
}
