package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIntervalSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	s := NewIntervalScheduler(5*time.Millisecond, loc)

	var runs atomic.Int32
	zones := make(chan *time.Location, 1)
	require.NoError(t, s.Start(context.Background(), func(tick time.Time) {
		if runs.Add(1) == 1 {
			zones <- tick.Location()
		}
	}))

	assert.Equal(t, loc, <-zones)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "job ran after Stop returned")
}

func TestIntervalSchedulerRejectsSecondStart(t *testing.T) {
	s := NewIntervalScheduler(time.Hour, nil)
	require.NoError(t, s.Start(context.Background(), func(time.Time) {}))
	assert.ErrorIs(t, s.Start(context.Background(), func(time.Time) {}), ErrRunning)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	require.NoError(t, s.Start(context.Background(), func(time.Time) {}), "restart after Stop")
	require.NoError(t, s.Stop(context.Background()))
}

func TestIntervalSchedulerStopsWithContext(t *testing.T) {
	s := NewIntervalScheduler(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	require.NoError(t, s.Start(ctx, func(time.Time) { close(started) }))
	<-started
	cancel()
	require.NoError(t, s.Stop(context.Background()))
}

func TestIntervalSchedulerStopTimesOutOnSlowJob(t *testing.T) {
	s := NewIntervalScheduler(time.Hour, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Start(context.Background(), func(time.Time) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	close(release)
	time.Sleep(10 * time.Millisecond)
}
