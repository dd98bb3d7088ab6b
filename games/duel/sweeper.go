package duel

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
)

// StartSweeper registers a ticker that expires stale sessions every interval.
// The returned waiter finishes when ctx is cancelled.
func (c *Controller) StartSweeper(ctx context.Context, interval, maxAge time.Duration) quartz.Waiter {
	return c.clock.TickerFunc(ctx, interval, func() error {
		c.ExpireStale(ctx, c.clock.Now(), maxAge)
		return nil
	}, "duel", "sweeper")
}

// RunSweeper blocks, sweeping every interval until ctx is cancelled.
func (c *Controller) RunSweeper(ctx context.Context, interval, maxAge time.Duration) error {
	c.logger.Info("session sweeper started", "interval", interval, "max_age", maxAge)
	err := c.StartSweeper(ctx, interval, maxAge).Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
