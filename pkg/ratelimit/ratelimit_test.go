package ratelimit

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simClock is a simulated clock. Sleep advances time instead of blocking.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSimClock() *simClock {
	return &simClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	runtime.Gosched()
	return nil
}

func TestNew_InvalidRate(t *testing.T) {
	t.Parallel()
	for _, r := range []float64{0, -1} {
		_, err := New(Config{Rate: r})
		assert.ErrorIs(t, err, ErrInvalidRate)
	}
}

func TestNew_DefaultBurstEqualsRate(t *testing.T) {
	t.Parallel()
	l, err := New(Config{Rate: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, l.Stats().Burst)

	l, err = New(Config{Rate: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Stats().Burst)
}

func TestAcquire_BurstIsImmediate(t *testing.T) {
	t.Parallel()
	clock := newSimClock()
	l, err := New(Config{Rate: 5}, WithClock(clock))
	require.NoError(t, err)

	start := clock.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Equal(t, start, clock.Now(), "first burst must not wait")

	require.NoError(t, l.Acquire(context.Background()))
	assert.True(t, clock.Now().After(start), "sixth permit must wait")
	assert.Equal(t, int64(6), l.Stats().Granted)
	assert.Equal(t, int64(1), l.Stats().Waited)
}

// TestAcquire_RollingWindowBound issues permits from many goroutines and
// checks that no one-second window ever holds more than rate grants.
func TestAcquire_RollingWindowBound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rate    float64
		burst   int
		workers int
		total   int
	}{
		{"safe mode", 5, 0, 5, 200},
		{"aggressive mode", 10, 0, 20, 300},
		{"oversized burst", 5, 20, 8, 200},
		{"fractional rate", 2.5, 0, 4, 60},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clock := newSimClock()
			l, err := New(Config{Rate: tc.rate, Burst: tc.burst}, WithClock(clock))
			require.NoError(t, err)

			var mu sync.Mutex
			grants := make([]time.Time, 0, tc.total)
			per := tc.total / tc.workers

			var wg sync.WaitGroup
			for w := 0; w < tc.workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						at, err := l.acquire(context.Background())
						if !assert.NoError(t, err) {
							return
						}
						mu.Lock()
						grants = append(grants, at)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			require.Len(t, grants, per*tc.workers)
			sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })

			limit := int(tc.rate)
			for i := range grants {
				end := grants[i].Add(time.Second)
				n := 0
				for j := i; j < len(grants) && grants[j].Before(end); j++ {
					n++
				}
				if n > limit {
					t.Fatalf("window starting %v granted %d permits, limit %d", grants[i].Sub(grants[0]), n, limit)
				}
			}
		})
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	t.Parallel()
	l, err := New(Config{Rate: 1})
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), l.Stats().Granted, "a cancelled caller must not consume a permit")
}

func TestAcquire_AlreadyCancelled(t *testing.T) {
	t.Parallel()
	l, err := New(Config{Rate: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestAcquire_RealClockConcurrent(t *testing.T) {
	t.Parallel()
	l, err := New(Config{Rate: 200})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, l.Acquire(context.Background()))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), l.Stats().Granted)
}
