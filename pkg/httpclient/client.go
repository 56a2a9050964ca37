package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/iohelper"
	"github.com/argusscan/argus/pkg/retry"
)

// Acquirer grants request permits. *ratelimit.Limiter implements it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Doer is the request surface handed to checks. Every call made through it
// is rate limited and retried.
type Doer interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
	Head(ctx context.Context, rawURL string) (*Response, error)
	Post(ctx context.Context, rawURL, contentType, body string) (*Response, error)
	Do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, error)
}

var _ Doer = (*Client)(nil)

// RequestEvent describes one attempt, for metrics.
type RequestEvent struct {
	Method   string
	URL      string
	Status   int
	Attempt  int
	Err      error
	Duration time.Duration
	Waited   time.Duration
}

// Response is a fully read, size-bounded HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	Truncated  bool
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Client is the rate-limited, retrying client given to checks.
// It is safe for concurrent use.
type Client struct {
	http     *http.Client
	limiter  Acquirer
	retry    retry.Config
	logger   *slog.Logger
	observe  func(RequestEvent)
	headers  http.Header
	maxBody  int64
	requests atomic.Int64
	retries  atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetry replaces the retry configuration.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithObserver receives one event per attempt.
func WithObserver(fn func(RequestEvent)) Option {
	return func(c *Client) { c.observe = fn }
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers.Set(k, v)
		}
	}
}

// WithMaxBody bounds how much of each body is read.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// NewClient wraps hc so that every attempt is gated by limiter.
func NewClient(hc *http.Client, limiter Acquirer, opts ...Option) *Client {
	c := &Client{
		http:    hc,
		limiter: limiter,
		retry:   retry.DefaultConfig(),
		logger:  slog.Default(),
		headers: make(http.Header),
		maxBody: defaults.BufferLarge,
	}
	c.headers.Set("User-Agent", defaults.UserAgent)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil, nil)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodHead, rawURL, nil, nil)
}

// Post sends body with the given content type.
func (c *Client) Post(ctx context.Context, rawURL, contentType, body string) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return c.Do(ctx, http.MethodPost, rawURL, h, []byte(body))
}

// Do performs a request. Each attempt, including retries, first acquires a
// permit. Transient failures and 429/5xx responses are retried per the retry
// configuration. When retries run out on a 429/5xx, the last response is
// returned together with a *StatusError. Other statuses, including 4xx, are
// returned with a nil error.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	var (
		resp    *Response
		attempt int
	)

	cfg := c.retry
	userHook := cfg.OnRetry
	cfg.OnRetry = func(n int, err error, delay time.Duration) {
		c.retries.Add(1)
		c.logger.Debug("retrying request",
			slog.String("method", method),
			slog.String("url", rawURL),
			slog.Int("attempt", n),
			slog.Duration("delay", delay),
			slog.String("err", err.Error()),
		)
		if userHook != nil {
			userHook(n, err, delay)
		}
	}

	err := retry.Do(ctx, cfg, func() error {
		attempt++
		resp = nil

		waitStart := time.Now()
		if err := c.limiter.Acquire(ctx); err != nil {
			return retry.Stop(err)
		}
		waited := time.Since(waitStart)

		var rdr io.Reader
		if body != nil {
			rdr = strings.NewReader(string(body))
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
		if err != nil {
			return retry.Stop(err)
		}
		for k, vs := range c.headers {
			req.Header[k] = vs
		}
		for k, vs := range header {
			req.Header[k] = vs
		}

		start := time.Now()
		r, err := c.http.Do(req)
		c.requests.Add(1)
		ev := RequestEvent{Method: method, URL: rawURL, Attempt: attempt, Waited: waited}
		if err != nil {
			ev.Err, ev.Duration = err, time.Since(start)
			c.emit(ev)
			return err
		}

		data, truncated, rerr := iohelper.ReadBody(r.Body, c.maxBody)
		iohelper.DrainAndClose(r.Body)
		ev.Status, ev.Duration = r.StatusCode, time.Since(start)
		if rerr != nil {
			ev.Err = rerr
			c.emit(ev)
			return fmt.Errorf("read body of %s: %w", rawURL, rerr)
		}
		c.emit(ev)

		resp = &Response{
			StatusCode: r.StatusCode,
			Header:     r.Header,
			Body:       data,
			URL:        r.Request.URL.String(),
			Truncated:  truncated,
		}
		if isRetryableStatus(r.StatusCode) {
			return &StatusError{
				StatusCode: r.StatusCode,
				URL:        rawURL,
				After:      parseRetryAfter(r.Header.Get("Retry-After"), time.Now()),
			}
		}
		return nil
	})

	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return resp, err
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) emit(ev RequestEvent) {
	if c.observe != nil {
		c.observe(ev)
	}
}

// Requests returns the number of requests sent, retries included.
func (c *Client) Requests() int64 { return c.requests.Load() }

// Retries returns the number of retry sleeps taken.
func (c *Client) Retries() int64 { return c.retries.Load() }
