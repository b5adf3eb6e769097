package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tiktokads/pkg/config"
)

// Limiter bounds the rate of outgoing requests. It is safe for concurrent
// use by several account workers.
type Limiter interface {
	// Allow takes a slot if one is free right now
	Allow() bool
	// Wait blocks until a slot is free or ctx is done
	Wait(ctx context.Context) error
	// Reset restores the initial state
	Reset()
}

// New builds the limiter named by the rate limit config section
func New(cfg config.RateLimitConfig) (Limiter, error) {
	switch cfg.Strategy {
	case "", "token_bucket":
		return NewTokenBucket(cfg.RequestsPerMinute, time.Minute, cfg.Burst), nil
	case "sliding_window":
		return NewSlidingWindow(cfg.RequestsPerMinute, time.Minute), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// TokenBucket refills continuously at rate tokens per period and holds at
// most burst tokens.
type TokenBucket struct {
	mu       sync.Mutex
	interval time.Duration // time to earn one token
	burst    float64
	tokens   float64
	last     time.Time
}

// NewTokenBucket creates a bucket allowing rate requests per period with
// bursts of up to burst requests. The bucket starts full.
func NewTokenBucket(rate int, period time.Duration, burst int) *TokenBucket {
	if rate < 1 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		interval: period / time.Duration(rate),
		burst:    float64(burst),
		tokens:   float64(burst),
		last:     time.Now(),
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.take(time.Now()) == 0
}

// take consumes a token or returns how long until one is available
func (tb *TokenBucket) take(now time.Time) time.Duration {
	if tb.interval > 0 {
		tb.tokens += float64(now.Sub(tb.last)) / float64(tb.interval)
		if tb.tokens > tb.burst {
			tb.tokens = tb.burst
		}
	}
	tb.last = now

	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	wait := time.Duration((1 - tb.tokens) * float64(tb.interval))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		wait := tb.take(time.Now())
		tb.mu.Unlock()
		if wait == 0 {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = tb.burst
	tb.last = time.Now()
}

// SlidingWindow allows at most maxRequests within any window of windowSize
type SlidingWindow struct {
	mu          sync.Mutex
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.take(time.Now()) == 0
}

func (sw *SlidingWindow) take(now time.Time) time.Duration {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0
	}
	wait := sw.requests[0].Add(sw.windowSize).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		sw.mu.Lock()
		wait := sw.take(time.Now())
		sw.mu.Unlock()
		if wait == 0 {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}

// Unlimited never blocks. Used when rate limiting is switched off in tests.
type Unlimited struct{}

func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Reset()                         {}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
