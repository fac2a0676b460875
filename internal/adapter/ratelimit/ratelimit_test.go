package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(limit int, window time.Duration) (*Window, *time.Time) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w := New(limit, window)
	w.now = func() time.Time { return now }
	return w, &now
}

func TestWindowAllowsUpToMax(t *testing.T) {
	w, _ := newTestWindow(10, time.Minute)
	for i := 1; i <= 10; i++ {
		d := w.CheckAndIncrement("203.0.113.7")
		require.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Zero(t, d.RetryAfter)
	}

	d := w.CheckAndIncrement("203.0.113.7")
	assert.False(t, d.Allowed, "11th request in the window must be denied")
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestWindowRetryAfterCountsDown(t *testing.T) {
	w, now := newTestWindow(1, time.Minute)
	w.CheckAndIncrement("k")

	*now = now.Add(45*time.Second + 300*time.Millisecond)
	d := w.CheckAndIncrement("k")
	require.False(t, d.Allowed)
	assert.Equal(t, 15*time.Second, d.RetryAfter, "rounded up to whole seconds")

	*now = now.Add(14*time.Second + 650*time.Millisecond)
	d = w.CheckAndIncrement("k")
	require.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter, "never below one second")
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	w, now := newTestWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		w.CheckAndIncrement("k")
	}
	require.False(t, w.CheckAndIncrement("k").Allowed)

	*now = now.Add(time.Minute)
	require.True(t, w.CheckAndIncrement("k").Allowed, "allowed again once resetAt is reached")

	// The counter restarted at 1, so exactly two more fit.
	assert.True(t, w.CheckAndIncrement("k").Allowed)
	assert.True(t, w.CheckAndIncrement("k").Allowed)
	assert.False(t, w.CheckAndIncrement("k").Allowed)
}

func TestWindowDeniedRequestsDoNotExtendWindow(t *testing.T) {
	w, now := newTestWindow(1, time.Minute)
	w.CheckAndIncrement("k")
	for i := 0; i < 5; i++ {
		*now = now.Add(10 * time.Second)
		w.CheckAndIncrement("k")
	}
	*now = now.Add(10 * time.Second)
	assert.True(t, w.CheckAndIncrement("k").Allowed)
}

func TestWindowKeysAreIndependent(t *testing.T) {
	w, _ := newTestWindow(1, time.Minute)
	assert.True(t, w.CheckAndIncrement("a").Allowed)
	assert.False(t, w.CheckAndIncrement("a").Allowed)
	assert.True(t, w.CheckAndIncrement("b").Allowed)
	assert.True(t, w.CheckAndIncrement("unknown").Allowed)
}

func TestInstancesDoNotShareState(t *testing.T) {
	chat, _ := newTestWindow(10, time.Minute)
	search, _ := newTestWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		search.CheckAndIncrement("k")
	}
	assert.False(t, search.CheckAndIncrement("k").Allowed)
	assert.True(t, chat.CheckAndIncrement("k").Allowed)
	assert.Equal(t, 1, chat.Len())
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	w, now := newTestWindow(5, time.Minute)
	w.CheckAndIncrement("old")
	*now = now.Add(30 * time.Second)
	w.CheckAndIncrement("fresh")

	removed := w.Sweep(now.Add(31 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, w.Len())

	assert.Equal(t, 0, w.Sweep(*now), "nothing else expired yet")
	assert.Equal(t, 1, w.Sweep(now.Add(time.Hour)))
	assert.Equal(t, 0, w.Len())
}

func TestWindowConcurrentAccess(t *testing.T) {
	w := New(50, time.Minute)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if w.CheckAndIncrement(fmt.Sprintf("client-%d", i%2)).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, allowed, "each of the two clients gets exactly its budget")
}
