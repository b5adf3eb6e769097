package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiktokads/pkg/config"
	errs "tiktokads/pkg/errors"
	"tiktokads/pkg/logger"
)

// Operation is one attempt of a retryable call
type Operation func(ctx context.Context) error

// Policy describes how an operation is retried. A zero MaxAttempts means
// a single attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, the first one included
	MaxAttempts int
	// Backoff computes the delay before each retry
	Backoff BackoffStrategy
	// RetryIf decides whether an error is worth another attempt
	RetryIf func(error) bool
	// OnRetry is called before sleeping for a retry
	OnRetry func(attempt int, err error, delay time.Duration)
	// MaxDelay bounds server supplied Retry-After hints
	MaxDelay time.Duration
	Logger   logger.Logger
}

// DefaultPolicy returns a policy with sensible defaults
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 5,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		MaxDelay:    30 * time.Second,
		Logger:      logger.NewNopLogger(),
	}
}

// FromConfig builds an exponential policy from the retry config section
func FromConfig(cfg config.RetryConfig, log logger.Logger) *Policy {
	if log == nil {
		log = logger.GetLogger()
	}
	jitterFactor := 0.0
	if cfg.Jitter {
		jitterFactor = 0.2
	}
	return &Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: &ExponentialBackoff{
			BaseDelay:    cfg.BaseDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			JitterFactor: jitterFactor,
		},
		RetryIf:  DefaultRetryIf,
		MaxDelay: cfg.MaxDelay,
		Logger:   log,
	}
}

// DefaultRetryIf retries retryable fetch errors and nothing else. A fetch
// error is classified by its own type, so a client timeout wrapped in a
// network FetchError is retried. Bare context errors are not.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	var fe *errs.FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

type stopKey struct{}

// WithStop returns a copy of ctx that carries stop. Do gives up retrying
// once stop is done, while an attempt already running keeps ctx and is not
// interrupted.
func WithStop(ctx, stop context.Context) context.Context {
	return context.WithValue(ctx, stopKey{}, stop)
}

// Stopped returns the error of the stop context attached with WithStop, or
// nil when there is none or it is still live
func Stopped(ctx context.Context) error {
	if stop, ok := ctx.Value(stopKey{}).(context.Context); ok {
		return stop.Err()
	}
	return nil
}

// StopContext returns a context that is done when ctx or its attached stop
// context is done. Use it for waits that must end on stop.
func StopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	stop, ok := ctx.Value(stopKey{}).(context.Context)
	if !ok {
		return ctx, func() {}
	}
	merged, cancel := context.WithCancel(ctx)
	unregister := context.AfterFunc(stop, cancel)
	return merged, func() {
		unregister()
		cancel()
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx or its stop context is done.
func (p *Policy) Do(ctx context.Context, op Operation) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := p.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		// ctx itself is done: the failure is the caller's, not the source's
		if ctx.Err() != nil {
			return err
		}
		if !retryIf(err) {
			return err
		}
		if attempt >= maxAttempts {
			log.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": lastErr.Error(),
			})
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		}

		delay := p.delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": maxAttempts,
		})

		if err := p.wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(err, lastErr))
		}
	}
}

// wait sleeps between attempts, ending early when ctx or its stop context
// is done
func (p *Policy) wait(ctx context.Context, delay time.Duration) error {
	if err := Stopped(ctx); err != nil {
		return err
	}
	waitCtx, cancel := StopContext(ctx)
	defer cancel()
	if err := Wait(waitCtx, delay); err != nil {
		if stopErr := Stopped(ctx); stopErr != nil {
			return stopErr
		}
		return err
	}
	return nil
}

// delay picks the backoff delay, raised to a Retry-After hint when present
func (p *Policy) delay(attempt int, err error) time.Duration {
	var delay time.Duration
	if p.Backoff != nil {
		delay = p.Backoff.NextDelay(attempt)
	}

	var fe *errs.FetchError
	if errors.As(err, &fe) && fe.RetryAfter > delay {
		delay = fe.RetryAfter
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return delay
}

// Attempts reports how many attempts err represents: the count recorded by
// an ExhaustedError, otherwise 1.
func Attempts(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 1
}

// DoWithResult runs op under p and returns its last result
func DoWithResult[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// WithMaxAttempts returns a copy of p with a different attempt budget
func (p *Policy) WithMaxAttempts(n int) *Policy {
	cp := *p
	cp.MaxAttempts = n
	return &cp
}

// WithBackoff returns a copy of p with a different backoff strategy
func (p *Policy) WithBackoff(b BackoffStrategy) *Policy {
	cp := *p
	cp.Backoff = b
	return &cp
}

// WithLogger returns a copy of p logging to log
func (p *Policy) WithLogger(log logger.Logger) *Policy {
	cp := *p
	cp.Logger = log
	return &cp
}
