package policeuk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mfleming85/beatcal/internal/police"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func temporary(cause error) error {
	return &police.FetchError{Class: police.ClassTemporary, Cause: cause}
}

func TestRetrySucceedsAfterTemporaryFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return temporary(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryPermanentReturnsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &police.FetchError{Class: police.ClassPermanent, Cause: errors.New("status 400")}
	})
	require.Equal(t, 1, calls)

	var fe *police.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, police.ClassPermanent, fe.Class)
	require.Equal(t, 1, fe.Attempts)
}

func TestRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	cause := errors.New("status 503")
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return temporary(cause)
	})
	require.Equal(t, 3, calls)

	var fe *police.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, police.ClassExhausted, fe.Class)
	require.Equal(t, 3, fe.Attempts)
	require.ErrorIs(t, err, cause)
}

func TestRetryUnclassifiedErrorIsPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("something unexpected")
	})
	require.Equal(t, 1, calls)

	var fe *police.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, police.ClassPermanent, fe.Class)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return temporary(errors.New("timeout"))
	})
	require.Equal(t, 1, calls)

	var fe *police.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, police.ClassExhausted, fe.Class)
	require.ErrorIs(t, err, context.Canceled)
}
