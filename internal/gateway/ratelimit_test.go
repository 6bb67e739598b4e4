package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
)

func TestRateLimiterNeverExceedsWindow(t *testing.T) {
	window := 300 * time.Millisecond
	limiter := NewRateLimiter("test", config.RateLaneConfig{MaxRequests: 3, WindowSeconds: 1})
	limiter.window = window

	var admissions []time.Time
	for i := 0; i < 9; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		admissions = append(admissions, time.Now())
	}

	// No sliding window of length W may contain more than N admissions.
	for i := range admissions {
		count := 1
		for j := i + 1; j < len(admissions); j++ {
			if admissions[j].Sub(admissions[i]) < window {
				count++
			}
		}
		if count > 3 {
			t.Fatalf("window starting at admission %d contains %d admissions, max 3", i, count)
		}
	}
}

func TestRateLimiterDelaysWhenFull(t *testing.T) {
	limiter := NewRateLimiter("test", config.RateLaneConfig{MaxRequests: 2, WindowSeconds: 1})
	limiter.window = 200 * time.Millisecond

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("third acquire should have waited for the window, elapsed %v", elapsed)
	}
}

func TestRateLimiterAcquireHonorsCancellation(t *testing.T) {
	limiter := NewRateLimiter("test", config.RateLaneConfig{MaxRequests: 1, WindowSeconds: 60})
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	if err == nil {
		t.Fatal("expected context error while waiting on a full window")
	}
}

func TestRateLimiterPrunesStaleEntries(t *testing.T) {
	limiter := NewRateLimiter("test", config.RateLaneConfig{MaxRequests: 2, WindowSeconds: 1})
	limiter.window = 50 * time.Millisecond

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	time.Sleep(80 * time.Millisecond)
	if got := limiter.Pending(); got != 0 {
		t.Fatalf("expected stale admissions evicted, still have %d", got)
	}
}
