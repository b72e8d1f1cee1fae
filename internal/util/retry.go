package util

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig controls how contract reads are retried. Writes are never
// retried: a resent transaction could execute twice.
type RetryConfig struct {
	MaxRetries     int           // retries after the first attempt; -1 retries until ctx ends
	BaseDelay      time.Duration // wait before the first retry
	MaxDelay       time.Duration // cap on any single wait; 0 = uncapped
	Multiplier     float64       // growth per retry, 2 when unset
	Jitter         float64       // +/- fraction applied to each wait
	AttemptTimeout time.Duration // per-attempt deadline; 0 = parent ctx only
	RetryIf        func(error) bool
}

// DefaultRetryConfig returns the defaults used for RPC reads.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2,
		Jitter:         0.1,
		AttemptTimeout: 10 * time.Second,
		RetryIf:        DefaultRetryIf(),
	}
}

// RetryResult describes a finished retry loop. LastError is nil on success.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Retry runs fn until it succeeds or the config gives up.
func Retry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) *RetryResult {
	_, result := RetryWithValue(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return result
}

// RetryWithValue runs fn until it succeeds or the config gives up, returning
// the value of the successful attempt.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	start := time.Now()
	result := &RetryResult{}
	finish := func(err error) *RetryResult {
		result.LastError = err
		result.Duration = time.Since(start)
		return result
	}

	var zero T
	for {
		result.Attempts++
		val, err := attempt(ctx, config.AttemptTimeout, fn)
		switch {
		case err == nil:
			return val, finish(nil)
		case config.RetryIf != nil && !config.RetryIf(err):
			return zero, finish(err)
		case config.MaxRetries >= 0 && result.Attempts > config.MaxRetries:
			return zero, finish(errors.Join(ErrMaxRetriesExceeded, err))
		}

		if werr := sleep(ctx, config.backoff(result.Attempts)); werr != nil {
			return zero, finish(errors.Join(ErrContextCanceled, werr, err))
		}
	}
}

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// sleep waits for d or until ctx ends, returning ctx's error in that case.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait after the given (1-based) failed attempt.
func (c *RetryConfig) backoff(attempt int) time.Duration {
	growth := c.Multiplier
	if growth <= 0 {
		growth = 2
	}

	delay := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= growth
		if c.MaxDelay > 0 && delay >= float64(c.MaxDelay) {
			break
		}
	}
	if c.Jitter > 0 {
		delay += delay * c.Jitter * (2*rand.Float64() - 1)
	}
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// nonRetryable marks an error that another attempt cannot fix, such as a
// revert or an undecodable result.
type nonRetryable struct{ error }

func (e nonRetryable) Unwrap() error { return e.error }

// MarkNonRetryable stops the retry loop at err. nil stays nil.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryable{err}
}

// IsNonRetryable reports whether err was marked with MarkNonRetryable.
func IsNonRetryable(err error) bool {
	var nr nonRetryable
	return errors.As(err, &nr)
}

// DefaultRetryIf retries everything except errors marked non-retryable and
// cancellation of the parent context.
func DefaultRetryIf() func(error) bool {
	return func(err error) bool {
		return !errors.Is(err, context.Canceled) && !IsNonRetryable(err)
	}
}
