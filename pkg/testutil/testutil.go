// Package testutil provides shared test helpers for Argus: a scripted
// WordPress site, a client wired for fast tests, and goroutine leak checks.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/retry"
)

// ErrFault is the sentinel error returned by fault injection helpers.
var ErrFault = errors.New("injected fault")

// Page is one scripted response.
type Page struct {
	Status int
	Body   string
	Header http.Header
}

// Site is an httptest server that serves scripted pages and counts hits.
// Paths without a page answer 404.
type Site struct {
	*httptest.Server

	mu    sync.Mutex
	pages map[string]Page
	hits  map[string]int
}

// NewSite starts a Site that is closed with the test.
func NewSite(t *testing.T, pages map[string]Page) *Site {
	t.Helper()
	s := &Site{pages: make(map[string]Page), hits: make(map[string]int)}
	for p, pg := range pages {
		s.pages[p] = pg
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// NewWordPressSite starts a Site whose homepage looks like WordPress.
func NewWordPressSite(t *testing.T, version string) *Site {
	t.Helper()
	return NewSite(t, map[string]Page{"/": {Body: WordPressHome(version)}})
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	s.mu.Lock()
	s.hits[r.URL.Path]++
	pg, ok := s.pages[key]
	if !ok {
		pg, ok = s.pages[r.URL.Path]
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	for k, vs := range pg.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := pg.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(pg.Body))
}

// Set adds or replaces the page at path. A path may be prefixed with a
// method, as in "POST /xmlrpc.php".
func (s *Site) Set(path string, pg Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = pg
}

// Hits returns how many requests reached path.
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// WordPressHome renders a homepage carrying WordPress markers. An empty
// version omits the generator tag.
func WordPressHome(version string) string {
	gen := ""
	if version != "" {
		gen = fmt.Sprintf(`<meta name="generator" content="WordPress %s" />`, version)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head>%s
<link rel="stylesheet" href="/wp-content/themes/twentytwentyfour/style.css" />
<script src="/wp-includes/js/jquery/jquery.min.js"></script>
<link rel="https://api.w.org/" href="/wp-json/" />
</head><body>Hello world</body></html>`, gen)
}

// NopLimiter grants every permit immediately.
type NopLimiter struct{}

func (NopLimiter) Acquire(ctx context.Context) error { return ctx.Err() }

// FastRetry returns a retry policy with millisecond delays.
func FastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts: attempts,
		InitDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Strategy:    retry.Constant,
	}
}

// NewClient builds an unthrottled client with a single attempt per request.
func NewClient(t *testing.T, opts ...httpclient.Option) *httpclient.Client {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	hc, err := httpclient.New(cfg)
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	opts = append([]httpclient.Option{httpclient.WithRetry(FastRetry(1))}, opts...)
	return httpclient.NewClient(hc, NopLimiter{}, opts...)
}

// GoroutineTracker captures goroutine count before/after a test to detect leaks.
type GoroutineTracker struct {
	before int
}

// TrackGoroutines snapshots the current goroutine count. Call CheckLeaks after.
func TrackGoroutines() *GoroutineTracker {
	runtime.Gosched()
	return &GoroutineTracker{before: runtime.NumGoroutine()}
}

// CheckLeaks waits briefly for goroutines to drain, then fails the test if
// more goroutines are running than when tracking started.
func (g *GoroutineTracker) CheckLeaks(t *testing.T, tolerance int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.Gosched()
		if runtime.NumGoroutine() <= g.before+tolerance {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > g.before+tolerance {
		t.Errorf("goroutine leak: before=%d after=%d tolerance=%d", g.before, after, tolerance)
	}
}

// AssertTimeout runs fn and fails if it doesn't complete within d.
func AssertTimeout(t *testing.T, name string, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s: timed out after %v (possible deadlock)", name, d)
	}
}
