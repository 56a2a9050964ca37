// Package httpclient builds the HTTP transport used against scan targets and
// wraps it in the rate-limited, retrying client handed to checks.
//
// Checks never see a raw *http.Client. They receive a *Client whose every
// request first obtains a permit from the scan's limiter, so the throughput
// ceiling holds for retries too.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/argusscan/argus/pkg/duration"
)

// Config holds HTTP transport configuration options.
type Config struct {
	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification (default: false)
	InsecureSkipVerify bool

	// Proxy is an http, https, socks5 or socks5h proxy URL (optional)
	Proxy string

	// FollowRedirects follows up to MaxRedirects redirects (default: true)
	FollowRedirects bool

	// MaxRedirects bounds redirect chains when following (default: 5)
	MaxRedirects int

	// MaxConnsPerHost bounds parallel connections to the target (default: 20)
	MaxConnsPerHost int
}

// DefaultConfig returns defaults for scanning one target.
func DefaultConfig() Config {
	return Config{
		Timeout:         duration.HTTPScanning,
		FollowRedirects: true,
		MaxRedirects:    5,
		MaxConnsPerHost: 20,
	}
}

// New creates an *http.Client for cfg.
func New(cfg Config) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = duration.HTTPScanning
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 20
	}

	dialer := &net.Dialer{
		Timeout:   duration.DialTimeout,
		KeepAlive: duration.KeepAlive,
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       duration.IdleConnTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		TLSHandshakeTimeout:   duration.TLSHandshake,
		DialContext:           dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}

	if cfg.Proxy != "" {
		if err := applyProxy(transport, cfg.Proxy); err != nil {
			return nil, err
		}
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       cfg.Timeout,
		CheckRedirect: redirectPolicy(cfg),
	}, nil
}

type noRedirectKey struct{}

// WithoutRedirects marks requests made with ctx to return redirect responses
// as-is, whatever the client's policy.
func WithoutRedirects(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRedirectKey{}, true)
}

func redirectPolicy(cfg Config) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if off, _ := req.Context().Value(noRedirectKey{}).(bool); off || !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("%w: stopped after %d redirects", ErrTooManyRedirects, len(via))
		}
		return nil
	}
}
