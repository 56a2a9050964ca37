// Package checks defines the contract every vulnerability check implements
// and the static registry of built-in WordPress checks.
//
// A check only talks to the target through the httpclient.Doer it is given,
// so every request it makes is rate limited and retried by the scan.
package checks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/retry"
)

var (
	// ErrNotInScope is returned by a detection check when the target is not
	// the kind of application the scan is for.
	ErrNotInScope = errors.New("checks: target not in scope")
	// ErrUnknownCheck is returned by Select for an unregistered name.
	ErrUnknownCheck = errors.New("checks: unknown check")
	// ErrDuplicateCheck is returned when two runners share a name.
	ErrDuplicateCheck = errors.New("checks: duplicate check name")
	// ErrInvalidTarget is returned for a target URL that cannot be scanned.
	ErrInvalidTarget = errors.New("checks: invalid target")
)

// Target is the application under test.
type Target struct {
	// URL is the base URL, always ending without a trailing slash.
	URL    *url.URL
	Domain string
}

// ParseTarget accepts a URL or bare host. A missing scheme means https.
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("%w: scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""
	return Target{URL: u, Domain: strings.ToLower(u.Host)}, nil
}

// String returns the base URL.
func (t Target) String() string { return t.URL.String() }

// Resolve joins path onto the base URL, keeping any base path prefix.
func (t Target) Resolve(path string) string {
	u := *t.URL
	p, q, _ := strings.Cut(path, "?")
	u.Path = t.URL.Path + "/" + strings.TrimLeft(p, "/")
	u.RawQuery = q
	return u.String()
}

// HTTPS reports whether the target is served over TLS.
func (t Target) HTTPS() bool { return t.URL.Scheme == "https" }

// Runner is one check. Execute must not perform I/O outside client. It may
// return findings together with an error when it only partly completed.
type Runner interface {
	Name() string
	Execute(ctx context.Context, client httpclient.Doer, target Target) ([]finding.Finding, error)
}

// Phase orders runners. All runners of one phase finish before the next
// phase starts.
type Phase int

const (
	// PhaseDetect runs alone, before anything else. A detect runner that
	// returns ErrNotInScope stops the scan.
	PhaseDetect Phase = iota
	// PhaseScan is the default phase.
	PhaseScan
)

// Phased is implemented by runners that do not run in PhaseScan.
type Phased interface {
	Phase() Phase
}

// PhaseOf returns the phase of r.
func PhaseOf(r Runner) Phase {
	if p, ok := r.(Phased); ok {
		return p.Phase()
	}
	return PhaseScan
}

// CheckError annotates a failed check with its retry class.
type CheckError struct {
	Check string
	Class retry.Class
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check %s failed (%s): %v", e.Check, e.Class, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// ErrPanic marks a check that panicked.
var ErrPanic = errors.New("checks: check panicked")

// Run executes r, converting a panic into a *CheckError and stamping each
// finding with the check name.
func Run(ctx context.Context, r Runner, client httpclient.Doer, target Target) (out []finding.Finding, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CheckError{
				Check: r.Name(),
				Class: retry.Permanent,
				Err:   fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack()),
			}
		}
	}()

	out, err = r.Execute(ctx, client, target)
	for i := range out {
		if out[i].Check == "" {
			out[i].Check = r.Name()
		}
	}
	if err != nil && !errors.Is(err, ErrNotInScope) {
		var ce *CheckError
		if !errors.As(err, &ce) {
			err = &CheckError{Check: r.Name(), Class: retry.Classify(err), Err: err}
		}
	}
	return out, err
}
