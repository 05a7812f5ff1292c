package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("event %d rejected", i)
		}
	}
	if rl.Allow(base.Add(500 * time.Millisecond)) {
		t.Fatalf("fourth event inside window allowed")
	}
	// The first event leaves the window at base+1s.
	if !rl.Allow(base.Add(time.Second)) {
		t.Fatalf("event after window rejected")
	}
	if rl.Allow(base.Add(time.Second + 50*time.Millisecond)) {
		t.Fatalf("window should still be full")
	}
}
