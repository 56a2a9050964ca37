package hosterrors

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkError_TripsAtThreshold(t *testing.T) {
	t.Parallel()
	c := NewCache(3)

	assert.False(t, c.MarkError("https://example.com/"))
	assert.False(t, c.MarkError("example.com"))
	assert.False(t, c.Check("example.com"))
	assert.True(t, c.MarkError("EXAMPLE.com:443"), "third consecutive failure trips")
	assert.True(t, c.Check("example.com"))
	assert.False(t, c.MarkError("example.com"), "trip is reported once")
}

func TestClear_ResetsConsecutiveCount(t *testing.T) {
	t.Parallel()
	c := NewCache(3)

	c.MarkError("example.com")
	c.MarkError("example.com")
	c.Clear("example.com")
	assert.Equal(t, 0, c.Count("example.com"))
	assert.False(t, c.MarkError("example.com"))
}

func TestClear_DoesNotUntrip(t *testing.T) {
	t.Parallel()
	c := NewCache(1)
	assert.True(t, c.MarkError("example.com"))
	c.Clear("example.com")
	assert.True(t, c.Check("example.com"))
}

func TestNewCache_DefaultThreshold(t *testing.T) {
	t.Parallel()
	c := NewCache(0)
	assert.False(t, c.MarkError("a"))
	assert.False(t, c.MarkError("a"))
	assert.True(t, c.MarkError("a"))
}

func TestMarkError_Concurrent(t *testing.T) {
	t.Parallel()
	c := NewCache(10)
	var trips atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.MarkError("example.com") {
				trips.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), trips.Load())
	assert.Equal(t, 50, c.Count("example.com"))
}

func TestEmptyHost(t *testing.T) {
	t.Parallel()
	c := NewCache(1)
	assert.False(t, c.MarkError("  "))
	assert.False(t, c.Check(""))
}

func TestIsNetworkError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, true},
		{"wrapped message", fmt.Errorf("check: %s", "dial tcp: connection refused"), true},
		{"status", errors.New("unexpected status 404"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsNetworkError(tt.err))
		})
	}
}
