package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRegister_validate(t *testing.T) {
	s := New()
	require.Error(t, s.Register("", time.Second, func(ctx context.Context) error { return nil }))
	require.Error(t, s.Register("a", 0, func(ctx context.Context) error { return nil }))
	require.Error(t, s.Register("a", time.Second, nil))

	require.NoError(t, s.Register("a", time.Second, func(ctx context.Context) error { return nil }))
	require.Error(t, s.Register("a", time.Second, func(ctx context.Context) error { return nil }))
}

func TestRun_periodicTicks(t *testing.T) {
	s := New()
	var runs atomic.Int64
	require.NoError(t, s.Register("tick", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, runs.Load(), int64(3))
}

func TestRun_slowTaskSkipsTicks(t *testing.T) {
	s := New()
	var runs atomic.Int64
	require.NoError(t, s.Register("slow", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		time.Sleep(80 * time.Millisecond)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	// При 10ms интервале без пропусков было бы ~20 запусков.
	require.LessOrEqual(t, runs.Load(), int64(4))
	var stats TaskStats
	for _, st := range s.Stats() {
		if st.Name == "slow" {
			stats = st
		}
	}
	require.Greater(t, stats.Skips, int64(0))
}

func TestRun_panicIsolated(t *testing.T) {
	s := New()
	var healthyRuns atomic.Int64
	require.NoError(t, s.Register("broken", 15*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, s.Register("healthy", 15*time.Millisecond, func(ctx context.Context) error {
		healthyRuns.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.GreaterOrEqual(t, healthyRuns.Load(), int64(2))
	for _, st := range s.Stats() {
		if st.Name == "broken" {
			require.Greater(t, st.Errors, int64(0))
			require.Contains(t, st.LastError, "boom")
		}
	}
}

func TestRun_errorRecordedLoopContinues(t *testing.T) {
	s := New()
	var runs atomic.Int64
	require.NoError(t, s.Register("flaky", 15*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("first run failed")
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.GreaterOrEqual(t, runs.Load(), int64(2))
	st := s.Stats()[0]
	require.Equal(t, int64(1), st.Errors)
	require.Equal(t, "first run failed", st.LastError)
}

func TestTrigger_forcesImmediateRun(t *testing.T) {
	s := New()
	var runs atomic.Int64
	require.NoError(t, s.Register("lazy", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.False(t, s.Trigger("nope"))
	require.True(t, s.Trigger("lazy"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.Equal(t, int64(1), runs.Load())
}

func TestRun_cooperativeShutdown(t *testing.T) {
	s := New()
	var finished atomic.Bool
	require.NoError(t, s.Register("inflight", 10*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(60 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond) // даём итерации стартовать
		cancel()
	}()
	_ = s.Run(ctx)

	// Run вернулся только после того, как начатая итерация доработала.
	require.True(t, finished.Load())
}
