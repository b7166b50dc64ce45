package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/tests/testutil"
)

// fakeClock advances to the requested deadline every time a timer is created,
// so the loop never actually sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) (<-chan time.Time, func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch, func() bool { return true }
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func TestNewRejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	_, err := New("every day at two", func(context.Context) error { return nil }, testutil.NewTestLogger(t).Logger)
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "rotation.schedule", cfgErr.Field)
}

func TestNext(t *testing.T) {
	t.Parallel()

	s, err := New("0 2 * * *", func(context.Context) error { return nil }, testutil.NewTestLogger(t).Logger)
	require.NoError(t, err)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "later the same day",
			from: time.Date(2026, 10, 19, 1, 30, 0, 0, time.UTC),
			want: time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "already past today",
			from: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly on the tick is excluded",
			from: time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC),
			want: time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.Next(tt.from)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestRunFiresDaily(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []time.Time
	job := func(context.Context) error {
		runs = append(runs, clock.Now())
		if len(runs) == 3 {
			cancel()
		}
		return nil
	}

	logger := testutil.NewTestLogger(t)
	s, err := New("0 2 * * *", job, logger.Logger, WithClock(clock.Now, clock.NewTimer))
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))

	require.Len(t, runs, 3)
	assert.Equal(t, time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC), runs[0])
	assert.Equal(t, time.Date(2026, 10, 21, 2, 0, 0, 0, time.UTC), runs[1])
	assert.Equal(t, time.Date(2026, 10, 22, 2, 0, 0, 0, time.UTC), runs[2])

	waits := clock.Waits()
	require.GreaterOrEqual(t, len(waits), 3)
	assert.Equal(t, 14*time.Hour, waits[0])
	assert.Equal(t, 24*time.Hour, waits[1])
	logger.AssertContains(t, "Next sweep at 2026-10-20T02:00:00Z")
}

func TestRunOnStart(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []time.Time
	job := func(context.Context) error {
		runs = append(runs, clock.Now())
		if len(runs) == 2 {
			cancel()
		}
		return nil
	}

	s, err := New("0 2 * * *", job, testutil.NewTestLogger(t).Logger,
		WithClock(clock.Now, clock.NewTimer), WithRunOnStart(true))
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	require.Len(t, runs, 2)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), runs[0])
	assert.Equal(t, time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC), runs[1])
}

func TestRunLogsJobErrorsAndContinues(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	job := func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
			return nil
		}
		return errors.New("listing certificates failed")
	}

	logger := testutil.NewTestLogger(t)
	s, err := New("*/5 * * * *", job, logger.Logger, WithClock(clock.Now, clock.NewTimer))
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 2, calls)
	logger.AssertContains(t, "Scheduled sweep failed: listing certificates failed")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	job := func(context.Context) error {
		t.Error("job should not run")
		return nil
	}

	s, err := New("0 2 * * *", job, testutil.NewTestLogger(t).Logger)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
