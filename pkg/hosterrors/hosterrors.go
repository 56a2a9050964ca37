// Package hosterrors tracks consecutive connectivity failures per host so a
// scan can stop once its target is plainly unreachable.
//
// A Cache is owned by one orchestrator; there is no process-wide instance.
//
// Usage:
//
//	if cache.Check(target) {
//	    // target already declared unreachable
//	    return
//	}
//	err := runCheck(target)
//	if hosterrors.IsNetworkError(err) {
//	    if cache.MarkError(target) {
//	        abort()
//	    }
//	} else {
//	    cache.Clear(target)
//	}
package hosterrors

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"syscall"

	"github.com/argusscan/argus/pkg/defaults"
)

// hostState tracks the consecutive error count for a host.
type hostState struct {
	count   int
	tripped bool
}

// Cache stores per-host consecutive failure counts.
type Cache struct {
	mu        sync.Mutex
	hosts     map[string]*hostState
	maxErrors int
}

// NewCache creates a cache that trips after maxErrors consecutive failures.
// maxErrors <= 0 uses defaults.UnreachableThreshold.
func NewCache(maxErrors int) *Cache {
	if maxErrors <= 0 {
		maxErrors = defaults.UnreachableThreshold
	}
	return &Cache{
		hosts:     make(map[string]*hostState),
		maxErrors: maxErrors,
	}
}

// MarkError records a connectivity failure for host. It returns true exactly
// once: on the call that reaches the threshold.
func (c *Cache) MarkError(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.hosts[host]
	if !ok {
		state = &hostState{}
		c.hosts[host] = state
	}
	state.count++
	if state.count >= c.maxErrors && !state.tripped {
		state.tripped = true
		return true
	}
	return false
}

// Check returns true if host has reached the failure threshold.
func (c *Cache) Check(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.hosts[host]
	return ok && state.tripped
}

// Clear resets the count for host after a successful exchange. A host that
// already tripped stays tripped.
func (c *Cache) Clear(host string) {
	host = normalizeHost(host)
	if host == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.hosts[host]; ok && !state.tripped {
		delete(c.hosts, host)
	}
}

// Count returns the current consecutive failure count for host.
func (c *Cache) Count(host string) int {
	host = normalizeHost(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.hosts[host]; ok {
		return state.count
	}
	return 0
}

// normalizeHost extracts and normalizes the host from a URL or host string.
func normalizeHost(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	if strings.Contains(input, "://") {
		if u, err := url.Parse(input); err == nil && u.Host != "" {
			input = u.Host
		}
	}

	host, _, err := net.SplitHostPort(input)
	if err != nil {
		host = input
	}

	return strings.ToLower(host)
}

// IsNetworkError returns true if err indicates the host could not be reached
// at all, as opposed to answering with an unexpected response.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Fall back to message matching for wrapped errors that lost their type.
	errStr := strings.ToLower(err.Error())
	networkIndicators := []string{
		"connection refused",
		"no such host",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"tls handshake timeout",
		"connection reset",
	}
	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
