// Package core runs one scan: it gates aggressive mode on consent, drives the
// checks through a bounded worker pool behind a shared rate limiter, and
// finalizes the session exactly once.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/argusscan/argus/pkg/checks"
	"github.com/argusscan/argus/pkg/consent"
	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/metrics"
	"github.com/argusscan/argus/pkg/ratelimit"
	"github.com/argusscan/argus/pkg/retry"
	"github.com/argusscan/argus/pkg/store"
	"github.com/argusscan/argus/pkg/telemetry"
)

var (
	// ErrConsentRequired is returned before any network I/O when aggressive
	// mode is requested for a domain without active consent.
	ErrConsentRequired = errors.New("core: consent required for aggressive mode")
	// ErrNotInScope means the detection phase did not recognize WordPress.
	ErrNotInScope = errors.New("core: target not recognized as WordPress")
	// ErrTargetUnreachable means the target stopped answering.
	ErrTargetUnreachable = errors.New("core: target unreachable")
	// ErrDetectFailed means the detection phase could not complete, so it
	// is unknown whether the target is in scope.
	ErrDetectFailed = errors.New("core: target detection failed")
	// ErrCancelled means the scan context was cancelled.
	ErrCancelled = errors.New("core: scan interrupted")
	// ErrInvalidMode is returned for a mode other than safe or aggressive.
	ErrInvalidMode = errors.New("core: invalid scan mode")
	// ErrNoChecks is returned when Run is given no runners.
	ErrNoChecks = errors.New("core: no checks selected")
)

// Session error messages.
const (
	msgNotInScope  = "target not recognized as WordPress"
	msgInterrupted = "scan interrupted"
)

// Mode selects the throughput ceiling and whether consent is required.
type Mode string

const (
	ModeSafe       Mode = defaults.ModeSafe
	ModeAggressive Mode = defaults.ModeAggressive
)

// ParseMode validates a mode name.
func ParseMode(v string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(v))); m {
	case ModeSafe, ModeAggressive:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, v)
}

// ConsentGate answers whether a domain may be scanned aggressively.
// *consent.Store implements it.
type ConsentGate interface {
	Require(ctx context.Context, domain string) error
}

// SessionStore persists sessions. *store.Store implements it.
type SessionStore interface {
	CreateSession(ctx context.Context, ns store.NewSession) (store.Session, error)
	AppendFindings(ctx context.Context, id string, findings []finding.Finding) error
	FinalizeSession(ctx context.Context, id string, status store.Status, summary store.Summary, errMsg string) error
	GetSession(ctx context.Context, id string) (store.Session, error)
}

var (
	_ ConsentGate  = (*consent.Store)(nil)
	_ SessionStore = (*store.Store)(nil)
)

// Config holds the scan settings.
type Config struct {
	RateSafe       float64
	RateAggressive float64

	// Threads is the worker pool size, capped at defaults.ThreadsMax.
	Threads int

	// HTTP configures the transport to the target.
	HTTP httpclient.Config

	// Retry is applied to every request a check issues.
	Retry retry.Config

	// UnreachableThreshold is how many consecutive checks may fail to
	// connect before the scan is aborted.
	UnreachableThreshold int

	// Headers are added to every request.
	Headers map[string]string
}

// DefaultConfig returns the built-in scan settings.
func DefaultConfig() Config {
	return Config{
		RateSafe:             defaults.RateSafe,
		RateAggressive:       defaults.RateAggressive,
		Threads:              defaults.Threads,
		HTTP:                 httpclient.DefaultConfig(),
		Retry:                retry.DefaultConfig(),
		UnreachableThreshold: defaults.UnreachableThreshold,
	}
}

// Rate returns the request ceiling for m.
func (c Config) Rate(m Mode) float64 {
	if m == ModeAggressive {
		return c.RateAggressive
	}
	return c.RateSafe
}

// Result is the outcome of one scan.
type Result struct {
	Session  store.Session
	Findings []finding.Finding
	Summary  store.Summary
	ExitCode int
}

// Orchestrator runs scans. It is safe to run several scans concurrently;
// each gets its own limiter, client and aggregator.
type Orchestrator struct {
	cfg     Config
	store   SessionStore
	gate    ConsentGate
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *telemetry.Provider
	now     func() time.Time
	grace   time.Duration

	newLimiter func(rate float64) (httpclient.Acquirer, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records scan activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithTelemetry traces scans through p.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.tracer = p
		}
	}
}

// WithClock replaces time.Now for durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHTTPClient replaces the transport built from Config.HTTP.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Orchestrator) {
		if hc != nil {
			o.http = hc
		}
	}
}

// WithLimiter replaces the per-scan rate limiter factory.
func WithLimiter(fn func(rate float64) (httpclient.Acquirer, error)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newLimiter = fn
		}
	}
}

// New creates an orchestrator. gate may be nil, in which case aggressive
// scans are always refused.
func New(cfg Config, st SessionStore, gate ConsentGate, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("core: nil session store")
	}
	if cfg.RateSafe <= 0 || cfg.RateAggressive <= 0 {
		return nil, fmt.Errorf("core: rates must be positive (safe=%v aggressive=%v)", cfg.RateSafe, cfg.RateAggressive)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = defaults.Threads
	}
	if cfg.Threads > defaults.ThreadsMax {
		cfg.Threads = defaults.ThreadsMax
	}
	if cfg.UnreachableThreshold <= 0 {
		cfg.UnreachableThreshold = defaults.UnreachableThreshold
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	o := &Orchestrator{
		cfg:    cfg,
		store:  st,
		gate:   gate,
		logger: slog.Default(),
		tracer: telemetry.Noop(),
		now:    time.Now,
		grace:  duration.InterruptGrace,
		newLimiter: func(rate float64) (httpclient.Acquirer, error) {
			return ratelimit.NewPerSecond(rate)
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.http == nil {
		if cfg.HTTP.MaxConnsPerHost <= 0 || cfg.HTTP.MaxConnsPerHost > cfg.Threads {
			cfg.HTTP.MaxConnsPerHost = cfg.Threads
		}
		hc, err := httpclient.New(cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		o.http = hc
	}
	return o, nil
}

// Threads returns the effective worker pool size.
func (o *Orchestrator) Threads() int { return o.cfg.Threads }

// Run scans target with runners. The consent gate is queried again here,
// so a token that expired since the caller last looked fails the run.
//
// A scan that reached finalize always returns a Result, also when it also
// returns an error describing why it stopped early. ExitCode maps that
// error to a process exit status.
func (o *Orchestrator) Run(ctx context.Context, target checks.Target, mode Mode, runners []checks.Runner) (*Result, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if len(runners) == 0 {
		return nil, ErrNoChecks
	}
	if target.URL == nil {
		return nil, checks.ErrInvalidTarget
	}
	domain, err := consent.NormalizeDomain(target.String())
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	if mode == ModeAggressive {
		if err := o.requireConsent(ctx, domain); err != nil {
			o.logger.Warn("aggressive scan refused", slog.String("domain", domain), slog.String("err", err.Error()))
			return nil, err
		}
	}

	limiter, err := o.newLimiter(o.cfg.Rate(mode))
	if err != nil {
		return nil, fmt.Errorf("core: rate limiter: %w", err)
	}

	sess, err := o.store.CreateSession(ctx, store.NewSession{
		Domain:    domain,
		TargetURL: target.String(),
		Mode:      string(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	s := o.newScan(sess, target, mode, limiter)
	return s.run(ctx, runners)
}

func (o *Orchestrator) requireConsent(ctx context.Context, domain string) error {
	if o.gate == nil {
		return fmt.Errorf("%w: %s: no consent store", ErrConsentRequired, domain)
	}
	if err := o.gate.Require(ctx, domain); err != nil {
		return fmt.Errorf("%w: %w", ErrConsentRequired, err)
	}
	return nil
}

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return defaults.ExitSuccess
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return defaults.ExitInterrupted
	case errors.Is(err, ErrNotInScope):
		return defaults.ExitNotInScope
	default:
		return defaults.ExitError
	}
}

// finalizeTimeout bounds the persistence step that runs after cancellation.
const finalizeTimeout = duration.DBWrite
