package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiktokads/pkg/config"
	"tiktokads/pkg/logger"
)

func TestNewRequiresSchedule(t *testing.T) {
	_, err := New(config.ScheduleConfig{}, func(context.Context) error { return nil }, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestIntervalRunsRepeatedly(t *testing.T) {
	var runs atomic.Int32
	s, err := New(config.ScheduleConfig{Interval: 20 * time.Millisecond}, func(context.Context) error {
		runs.Add(1)
		return nil
	}, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !s.NextRun().IsZero() }, time.Second, 5*time.Millisecond)
}

func TestInvalidCronIsRejected(t *testing.T) {
	s, err := New(config.ScheduleConfig{Cron: "every tuesday"}, func(context.Context) error { return nil }, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}

func TestCronWinsOverInterval(t *testing.T) {
	var runs atomic.Int32
	s, err := New(config.ScheduleConfig{Cron: "0 3 * * *", Interval: time.Millisecond}, func(context.Context) error {
		runs.Add(1)
		return nil
	}, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return !s.NextRun().IsZero() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, s.NextRun().Hour())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestRunOnceSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, err := New(config.ScheduleConfig{Interval: time.Hour}, func(context.Context) error {
		close(started)
		<-release
		return errors.New("upstream down")
	}, logger.NewNopLogger())
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- s.RunOnce(context.Background()) }()
	<-started

	assert.False(t, s.RunOnce(context.Background()))
	close(release)
	assert.True(t, <-done)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Skipped)
	assert.EqualError(t, stats.LastError, "upstream down")
}

func TestRunOnceAfterCancel(t *testing.T) {
	s, err := New(config.ScheduleConfig{Interval: time.Hour}, func(context.Context) error {
		t.Error("run after cancel")
		return nil
	}, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.RunOnce(ctx))
}
