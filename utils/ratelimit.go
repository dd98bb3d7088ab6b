package utils

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// RateLimiter caps outbound Discord requests to a fixed number per window.
// A slot is held for one window after it is taken.
type RateLimiter struct {
	slots  chan struct{}
	clock  quartz.Clock
	window time.Duration
}

// NewRateLimiter creates a limiter allowing requestsPerSecond requests per second
func NewRateLimiter(clock quartz.Clock, requestsPerSecond int) *RateLimiter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &RateLimiter{
		slots:  make(chan struct{}, requestsPerSecond),
		clock:  clock,
		window: time.Second,
	}
}

// Wait waits for rate limit clearance
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case rl.slots <- struct{}{}:
		rl.clock.AfterFunc(rl.window, func() { <-rl.slots }, "ratelimit")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
