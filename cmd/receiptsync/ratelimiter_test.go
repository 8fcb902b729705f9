package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "limits are per client")
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	assert.True(t, rl.Allow("client"))
	assert.False(t, rl.Allow("client"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("client"))
}

func TestRateLimiter_NonPositiveLimitDenies(t *testing.T) {
	for _, limit := range []int{0, -5} {
		rl := NewRateLimiter(limit, time.Minute)
		assert.False(t, rl.Allow("client"), "limit %d", limit)
	}
}

func TestRateLimiter_CleanupDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)
	for i := 0; i < 10; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	time.Sleep(20 * time.Millisecond)
	rl.Allow("fresh")

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Len(t, rl.requests, 1)
	assert.Contains(t, rl.requests, "fresh")
}

func TestRateLimiter_Concurrent(t *testing.T) {
	const limit = 50
	rl := NewRateLimiter(limit, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
}
