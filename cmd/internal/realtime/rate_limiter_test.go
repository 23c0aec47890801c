package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("fourth event in window must be denied")
	}

	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after window must be allowed")
	}
}

func TestRateLimiter_InvalidInputsUseDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if len(rl.stamps) != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%v", len(rl.stamps), rl.window)
	}
}
