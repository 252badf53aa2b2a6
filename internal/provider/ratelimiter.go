package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures one RateLimiter instance.
type RateLimiterConfig struct {
	// WindowSize is the sliding-window acquisition limit.
	WindowSize int
	// Window is the sliding-window duration.
	Window time.Duration
	// MaxConcurrency bounds simultaneously in-flight requests.
	MaxConcurrency int
	// CooldownOnRateLimit is how long Block() holds off new acquisitions
	// after an upstream 429, per spec.md §4.7's default 60s.
	CooldownOnRateLimit time.Duration
}

// DefaultRateLimiterConfig matches spec.md §4.7's stated default cooldown.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		WindowSize:          20,
		Window:              time.Second,
		MaxConcurrency:      4,
		CooldownOnRateLimit: 60 * time.Second,
	}
}

// RateLimiter combines a sliding-window acquisition limit, a concurrency
// semaphore, and a global cooldown set by an upstream 429, per spec.md §5's
// "Global rate limiter" shared resource. A sliding window with a shared
// cooldown on top doesn't fit golang.org/x/time/rate's single-bucket model,
// so this is hand-rolled, per DESIGN.md.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu          sync.Mutex
	timestamps  []time.Time
	blockedUntil time.Time

	sem chan struct{}
}

// NewRateLimiter constructs a limiter from cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &RateLimiter{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Acquire blocks until a concurrency slot and a sliding-window slot are both
// available, and the global cooldown (if any) has elapsed. The returned
// release func must be called exactly once when the request completes.
func (r *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := r.waitWindow(ctx); err != nil {
		<-r.sem
		return nil, err
	}

	return func() { <-r.sem }, nil
}

func (r *RateLimiter) waitWindow(ctx context.Context) error {
	for {
		wait := r.nextWait()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// nextWait returns how long the caller must still wait, recording an
// acquisition (advancing the sliding window) when no wait is needed.
func (r *RateLimiter) nextWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if now.Before(r.blockedUntil) {
		return r.blockedUntil.Sub(now)
	}

	cutoff := now.Add(-r.cfg.Window)
	kept := r.timestamps[:0]
	for _, ts := range r.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.timestamps = kept

	if r.cfg.WindowSize > 0 && len(r.timestamps) >= r.cfg.WindowSize {
		oldest := r.timestamps[0]
		return oldest.Add(r.cfg.Window).Sub(now)
	}

	r.timestamps = append(r.timestamps, now)
	return 0
}

// Block sets the global cooldown, called when MapError observes an
// upstream 429. A zero duration uses the configured default.
func (r *RateLimiter) Block(duration time.Duration) {
	if duration <= 0 {
		duration = r.cfg.CooldownOnRateLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until := time.Now().Add(duration)
	if until.After(r.blockedUntil) {
		r.blockedUntil = until
	}
}
