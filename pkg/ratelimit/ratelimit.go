// Package ratelimit bounds the aggregate request rate of one scan.
//
// A Limiter is shared by every worker of a ScanOrchestrator. Each network
// call made by a check must first obtain a permit with Acquire. The limiter
// combines a token bucket (golang.org/x/time/rate) with a rolling one-second
// window so that the number of permits granted in any one-second interval
// never exceeds the configured rate, even right after an idle period when
// the bucket is full.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/argusscan/argus/pkg/duration"
)

// ErrInvalidRate is returned by New when the rate is not positive.
var ErrInvalidRate = errors.New("ratelimit: rate must be positive")

// Config holds rate limiting configuration.
type Config struct {
	// Rate is the ceiling in requests per second.
	Rate float64

	// Burst is the bucket capacity. 0 means equal to Rate (at least 1).
	Burst int
}

// Clock is the time source of a Limiter. Tests substitute a simulated clock.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limiter is a thread-safe request gate.
type Limiter struct {
	clock Clock

	// mu guards bucket reservations and the window together so a permit
	// is granted by exactly one caller.
	mu     sync.Mutex
	bucket *rate.Limiter
	window *slidingWindow

	rate  float64
	burst int

	granted   int64
	waited    int64
	totalWait time.Duration
}

// slidingWindow tracks permit grant times within the last window.
type slidingWindow struct {
	window   time.Duration
	maxCount int
	grants   []time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		window:   window,
		maxCount: max,
		grants:   make([]time.Time, 0, max),
	}
}

// waitFrom prunes grants that left the window and returns how long the
// caller must wait before the window has room again.
func (sw *slidingWindow) waitFrom(now time.Time) time.Duration {
	cutoff := now.Add(-sw.window)
	kept := sw.grants[:0]
	for _, t := range sw.grants {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	sw.grants = kept

	if len(sw.grants) < sw.maxCount {
		return 0
	}
	return sw.grants[0].Add(sw.window).Sub(now)
}

func (sw *slidingWindow) record(now time.Time) {
	sw.grants = append(sw.grants, now)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a limiter for cfg.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Rate <= 0 || math.IsInf(cfg.Rate, 0) || math.IsNaN(cfg.Rate) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, cfg.Rate)
	}

	// Permits per rolling second can never exceed floor(rate); a fractional
	// rate below one still admits a single permit, spaced by the bucket.
	perWindow := int(math.Floor(cfg.Rate))
	if perWindow < 1 {
		perWindow = 1
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = perWindow
	}

	l := &Limiter{
		clock:  realClock{},
		bucket: rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		window: newSlidingWindow(perWindow, duration.RateWindow),
		rate:   cfg.Rate,
		burst:  burst,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewPerSecond creates a limiter with rps requests per second.
func NewPerSecond(rps float64, opts ...Option) (*Limiter, error) {
	return New(Config{Rate: rps}, opts...)
}

// Acquire blocks until a permit is available, then consumes it.
// It returns ctx.Err() if the context ends first; no permit is consumed then.
func (l *Limiter) Acquire(ctx context.Context) error {
	_, err := l.acquire(ctx)
	return err
}

// acquire returns the instant the permit was granted.
func (l *Limiter) acquire(ctx context.Context) (time.Time, error) {
	var waitedTotal time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}

		l.mu.Lock()
		now := l.clock.Now()
		wait := l.window.waitFrom(now)
		if wait <= 0 {
			r := l.bucket.ReserveN(now, 1)
			if !r.OK() {
				l.mu.Unlock()
				return time.Time{}, fmt.Errorf("ratelimit: burst %d cannot admit a request", l.burst)
			}
			if d := r.DelayFrom(now); d > 0 {
				r.CancelAt(now)
				wait = d
			} else {
				l.window.record(now)
				l.granted++
				if waitedTotal > 0 {
					l.waited++
					l.totalWait += waitedTotal
				}
				l.mu.Unlock()
				return now, nil
			}
		}
		l.mu.Unlock()

		// Sleep outside the lock so other callers can make progress.
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return time.Time{}, err
		}
		waitedTotal += wait
	}
}

// Rate returns the configured ceiling in requests per second.
func (l *Limiter) Rate() float64 { return l.rate }

// Stats returns current rate limiter statistics.
type Stats struct {
	Rate            float64
	Burst           int
	Granted         int64
	Waited          int64
	TotalWait       time.Duration
	TokensAvailable float64
	WindowGrants    int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.window.waitFrom(now)
	return Stats{
		Rate:            l.rate,
		Burst:           l.burst,
		Granted:         l.granted,
		Waited:          l.waited,
		TotalWait:       l.totalWait,
		TokensAvailable: l.bucket.TokensAt(now),
		WindowGrants:    len(l.window.grants),
	}
}
