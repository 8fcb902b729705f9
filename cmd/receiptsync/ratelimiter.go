package main

import (
	"sync"
	"time"
)

// RateLimiter is a per-client sliding window limiter for the ingest API
type RateLimiter struct {
	mu          sync.RWMutex
	requests    map[string][]time.Time
	limit       int
	window      time.Duration
	lastCleanup time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:    make(map[string][]time.Time),
		limit:       limit,
		window:      window,
		lastCleanup: time.Now(),
	}
}

// Allow records a request from key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	if now.Sub(rl.lastCleanup) > rl.window {
		rl.cleanup(cutoff)
		rl.lastCleanup = now
	}

	recent := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}

	rl.requests[key] = append(recent, now)
	return true
}

// cleanup drops keys without requests in the current window; mu must be held
func (rl *RateLimiter) cleanup(cutoff time.Time) {
	for key, times := range rl.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.requests, key)
		}
	}
}
