package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiktokads/pkg/config"
)

func TestTokenBucketBurstThenRefill(t *testing.T) {
	tb := NewTokenBucket(10, 100*time.Millisecond, 3) // one token every 10ms

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "burst exhausted")

	time.Sleep(25 * time.Millisecond)
	assert.True(t, tb.Allow(), "refilled after one interval")

	tb.Reset()
	assert.True(t, tb.Allow())
}

func TestTokenBucketWaitBoundsRate(t *testing.T) {
	tb := NewTokenBucket(50, time.Second, 1) // 20ms per token

	start := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, tb.Wait(context.Background()))
	}
	// first token is free, the remaining five cost ~20ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketConcurrentWaiters(t *testing.T) {
	tb := NewTokenBucket(100, time.Second, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tb.Wait(ctx) == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	// 2 burst tokens plus about 5 refills in 55ms
	assert.LessOrEqual(t, granted.Load(), int32(9))
	assert.GreaterOrEqual(t, granted.Load(), int32(2))
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow(), "request %d", i+1)
	}
	assert.False(t, sw.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, sw.Allow())

	sw.Reset()
	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
}

func TestSlidingWindowWait(t *testing.T) {
	sw := NewSlidingWindow(2, 40*time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, sw.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestNewFromConfig(t *testing.T) {
	l, err := New(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 2})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)

	l, err = New(config.RateLimitConfig{RequestsPerMinute: 60, Strategy: "sliding_window"})
	require.NoError(t, err)
	assert.IsType(t, &SlidingWindow{}, l)

	_, err = New(config.RateLimitConfig{Strategy: "leaky"})
	assert.Error(t, err)
}
