package provider

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{WindowSize: 2, Window: time.Minute, MaxConcurrency: 2})

	for i := 0; i < 2; i++ {
		release, err := rl.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		release()
	}
}

func TestRateLimiterBlocksBeyondWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{WindowSize: 1, Window: 50 * time.Millisecond, MaxConcurrency: 1})

	release, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := rl.Acquire(ctx); err == nil {
		t.Errorf("expected the second Acquire within the window to block until context deadline")
	}

	release2, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected Acquire to succeed once the window rolls over: %v", err)
	}
	release2()
}

func TestRateLimiterConcurrencyLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxConcurrency: 1})

	release, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rl.Acquire(ctx); err == nil {
		t.Errorf("expected second concurrent Acquire to block while the first slot is held")
	}

	release()
	release3, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected Acquire to succeed after release: %v", err)
	}
	release3()
}

func TestRateLimiterBlockSetsCooldown(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxConcurrency: 1})
	rl.Block(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := rl.Acquire(ctx); err == nil {
		t.Errorf("expected Acquire to be blocked by cooldown")
	}

	time.Sleep(40 * time.Millisecond)
	release, err := rl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected Acquire to succeed once cooldown elapses: %v", err)
	}
	release()
}

func TestRateLimiterBlockDoesNotShortenLongerCooldown(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxConcurrency: 1})
	rl.Block(time.Hour)
	rl.Block(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := rl.Acquire(ctx); err == nil {
		t.Errorf("expected the longer cooldown to still be in effect")
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.CooldownOnRateLimit != 60*time.Second {
		t.Errorf("expected a 60s default cooldown, got %s", cfg.CooldownOnRateLimit)
	}
}
