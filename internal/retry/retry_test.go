package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(err error) bool { return true }, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(err error) bool { return true }, func(ctx context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(err error) bool { return errors.Is(err, errTransient) }, func(ctx context.Context) error {
		calls++
		return errPermanent
	})
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(), func(err error) bool { return true }, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_AttemptTimeoutApplied(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 1
	p.AttemptTimeout = 10 * time.Millisecond

	err := Do(context.Background(), p, func(err error) bool { return false }, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoffDelay_Bounded(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}.normalized()
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(p, attempt)
		require.Greater(t, d, time.Duration(0))
		// MaxDelay плюс джиттер до 50%.
		require.LessOrEqual(t, d, p.MaxDelay+p.MaxDelay/2)
	}
}
