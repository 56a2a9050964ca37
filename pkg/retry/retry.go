// Package retry decides whether a failed request is worth repeating and
// runs the backoff loop around it.
//
// Classification is explicit: callers get a Decision value rather than
// relying on error types to drive control flow. Transient failures
// (connection reset, timeouts, DNS temporary failures, HTTP 5xx and 429)
// are retried up to MaxAttempts; permanent failures (other 4xx, TLS
// certificate errors, malformed responses) stop immediately.
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    if err := limiter.Acquire(ctx); err != nil {
//	        return retry.Stop(err)
//	    }
//	    resp, err := client.Do(req)
//	    ...
//	})
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
)

// Strategy defines the backoff algorithm.
type Strategy int

const (
	// Constant uses the same delay between every attempt.
	Constant Strategy = iota
	// Exponential doubles the delay each attempt: initDelay * 2^attempt.
	Exponential
	// Linear increases the delay linearly: initDelay * (attempt+1).
	Linear
)

// String returns the config name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Exponential:
		return "exponential"
	case Linear:
		return "linear"
	default:
		return "fixed"
	}
}

// ParseStrategy maps a config value to a Strategy. Unknown names map to Constant.
func ParseStrategy(name string) Strategy {
	switch name {
	case "exponential":
		return Exponential
	case "linear":
		return Linear
	default:
		return Constant
	}
}

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int           // Total attempts (including the first). 0 means no-op.
	InitDelay   time.Duration // Base delay before first retry.
	MaxDelay    time.Duration // Upper bound on any single delay.
	Strategy    Strategy      // Backoff algorithm.
	Jitter      bool          // Add ±25% random jitter to each delay.

	// Classifier overrides Classify. nil uses the package classifier.
	Classifier func(error) Class

	// OnRetry is called before each sleep. Used for logging and metrics.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the scan default: 3 attempts with a fixed 2s delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: defaults.RetryAttempts,
		InitDelay:   duration.RetryFixed,
		MaxDelay:    duration.RetryMax,
		Strategy:    Constant,
	}
}

// StopError wraps an error to signal that retrying should stop immediately.
// Use this when the caller knows the error is permanent.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further retries.
func Stop(err error) error {
	return &StopError{Err: err}
}

// Decision is the outcome of classifying one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	Class Class
}

// Decide classifies err for the given 0-indexed attempt. Retry is false once
// the attempt ceiling is reached, whatever the class.
func (c Config) Decide(err error, attempt int) Decision {
	class := c.classify(err)
	d := Decision{Class: class}
	if class != Transient || attempt >= c.MaxAttempts-1 {
		return d
	}
	d.Retry = true
	d.Delay = CalcDelay(c, attempt)
	if ra := retryAfter(err); ra > d.Delay {
		d.Delay = min(ra, c.MaxDelay)
	}
	return d
}

func (c Config) classify(err error) Class {
	var stop *StopError
	if errors.As(err, &stop) {
		return Permanent
	}
	if c.Classifier != nil {
		return c.Classifier(err)
	}
	return Classify(err)
}

// sleeper is an interface for waiting, allowing tests to override time.After.
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

// realSleeper uses a timer for production code.
type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes fn up to cfg.MaxAttempts times, sleeping between transient
// failures according to the configured strategy. It returns nil on the first
// successful call, the error itself on a permanent failure, or the last
// error if all attempts fail. If the context is cancelled, ctx.Err() is
// returned immediately.
//
// If fn returns a StopError, Do returns the wrapped error without retrying.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return doWithSleeper(ctx, cfg, fn, realSleeper{})
}

func doWithSleeper(ctx context.Context, cfg Config, fn func() error, s sleeper) error {
	if cfg.MaxAttempts <= 0 {
		return nil
	}

	var lastErr error
	for attempt := range cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		d := cfg.Decide(lastErr, attempt)
		if !d.Retry {
			var stop *StopError
			if errors.As(lastErr, &stop) {
				return stop.Err
			}
			return lastErr
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, d.Delay)
		}
		if err := s.sleep(ctx, d.Delay); err != nil {
			return err
		}
	}
	return lastErr
}

// CalcDelay computes the sleep duration for a given attempt (0-indexed).
func CalcDelay(cfg Config, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = duration.RetryMax
	}

	var f float64
	switch cfg.Strategy {
	case Exponential:
		f = float64(cfg.InitDelay) * math.Pow(2, float64(attempt))
	case Linear:
		f = float64(cfg.InitDelay) * float64(attempt+1)
	default:
		f = float64(cfg.InitDelay)
	}

	delay := maxDelay
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f < float64(maxDelay) {
		delay = time.Duration(f)
	}

	if cfg.Jitter && delay > 0 {
		quarter := int64(delay) / 4
		if quarter > 0 {
			j := time.Duration(rand.Int64N(quarter))
			if rand.IntN(2) == 0 {
				delay += j
			} else {
				delay -= j
			}
		}
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}
