package server

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRateLimiter(cfg RateLimitConfig) (*rateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiter(cfg)
	rl.now = clock.Now
	rl.lastCheck = clock.Now()
	return rl, clock
}

func TestRateLimiterBurst(t *testing.T) {
	rl, _ := newTestRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: time.Second})

	for i := range 3 {
		if !rl.allow() {
			t.Fatalf("Message %d within burst should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("Message beyond burst should be rejected")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl, clock := newTestRateLimiter(RateLimitConfig{Burst: 2, RefillInterval: time.Second})

	rl.allow()
	rl.allow()
	if rl.allow() {
		t.Fatal("Bucket should be empty")
	}

	clock.Advance(500 * time.Millisecond)
	if !rl.allow() {
		t.Error("Half an interval should refill one of two tokens")
	}
	if rl.allow() {
		t.Error("Only one token should have been refilled")
	}

	clock.Advance(time.Hour)
	allowed := 0
	for range 5 {
		if rl.allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("Refill must not exceed capacity: allowed %d, want 2", allowed)
	}
}

func TestRateLimiterClockSkew(t *testing.T) {
	rl, clock := newTestRateLimiter(RateLimitConfig{Burst: 1, RefillInterval: time.Second})

	rl.allow()
	clock.Advance(-time.Minute)
	if rl.allow() {
		t.Error("Time moving backwards must not refill the bucket")
	}
}

func TestRateLimiterInvalidConfig(t *testing.T) {
	rl, _ := newTestRateLimiter(RateLimitConfig{})

	if !rl.allow() {
		t.Error("Zero config should still allow one message")
	}
	if rl.allow() {
		t.Error("Zero config should fall back to a capacity of one")
	}
}
