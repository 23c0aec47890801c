package realtime

import (
	"sync"
	"time"
)

// RateLimiter enforces a sliding window over inbound frames for one
// connection. It keeps the timestamps of the most recent accepted events in
// a fixed ring, so Allow is O(1) and never reallocates after construction.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int
	count  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter. Non-positive inputs fall back to
// the package defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted, and
// records it when it is.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.stamps) {
		r.stamps[(r.head+r.count)%len(r.stamps)] = now
		r.count++
		return true
	}

	// Ring is full: the slot at head holds the oldest of the last `limit`
	// events. If it is still inside the window, the budget is spent.
	if now.Sub(r.stamps[r.head]) < r.window {
		return false
	}
	r.stamps[r.head] = now
	r.head = (r.head + 1) % len(r.stamps)
	return true
}
