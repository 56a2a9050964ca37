package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for HTTP client failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrInvalidProxy indicates the configured proxy URL cannot be used.
	ErrInvalidProxy = errors.New("httpclient: invalid proxy")

	// ErrTooManyRedirects indicates a redirect chain exceeded MaxRedirects.
	ErrTooManyRedirects = errors.New("httpclient: too many redirects")

	// ErrRetryableStatus indicates the server kept answering 429 or 5xx.
	ErrRetryableStatus = errors.New("httpclient: retryable status")
)

// StatusError reports a 429 or 5xx response. It satisfies the retry
// package's StatusCoder and RetryAfterer interfaces.
type StatusError struct {
	StatusCode int
	URL        string
	After      time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpclient: %s returned %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrRetryableStatus }

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// RetryAfter returns the delay requested by a Retry-After header.
func (e *StatusError) RetryAfter() time.Duration { return e.After }

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
