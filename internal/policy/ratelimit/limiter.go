// Package ratelimit spaces outbound API calls so consecutive requests start at least an interval apart.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum gap between request starts.
type Throttle struct {
	limiter *rate.Limiter
	observe func(time.Duration)
}

// New creates a Throttle. A non-positive interval disables spacing.
// observe, when non-nil, receives every wait longer than a millisecond.
func New(interval time.Duration, observe func(time.Duration)) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, 1),
		observe: observe,
	}
}

// Wait blocks until the next request may start, respecting the context.
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && t.observe != nil {
		t.observe(waited)
	}
	return nil
}
