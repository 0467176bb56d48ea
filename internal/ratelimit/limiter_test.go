package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNilLimiterNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(0, 10)
	if rl != nil {
		t.Fatal("Expected nil limiter for zero rate")
	}
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait on nil limiter returned %v", err)
		}
	}
}

func TestBurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(20, 3)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Errorf("Burst should not wait, took %v", time.Since(start))
	}

	start = time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Expected to wait for a refill, waited %v", elapsed)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	rl := NewRateLimiter(0.01, 1)
	_ = rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Expected context error")
	}
}
