package meshcoord

import (
	"context"
	"time"

	"github.com/hupe1980/meshcoord/logging"
)

// Start launches the session sweep and the pattern sweep on independent
// tickers. Calling Start on a running coordinator is a no-op. The sweeps stop
// when ctx is canceled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.every(ctx, c.cfg.Session.SweepInterval, c.SweepSessions)
	go c.every(ctx, c.cfg.Pattern.SweepInterval, c.ReanalyzePatterns)
	c.logger.Info("scheduler.started",
		"session_interval", c.cfg.Session.SweepInterval,
		"pattern_interval", c.cfg.Pattern.SweepInterval)
}

// Stop halts the sweeps and waits for an in-flight pass to finish.
func (c *Coordinator) Stop() {
	c.schedMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.schedMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("scheduler.stopped")
}

func (c *Coordinator) every(ctx context.Context, interval time.Duration, fn func() int) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// SweepSessions runs one expiry pass, purging inactive sessions afterwards
// when configured. It returns the number of sessions that expired.
func (c *Coordinator) SweepSessions() int {
	start := time.Now()
	n := c.sessions.SweepExpired()
	if c.cfg.Session.PurgeExpired {
		c.sessions.Purge()
	}
	c.logSweep("session", n, time.Since(start))
	return n
}

// ReanalyzePatterns runs one confidence re-analysis pass and returns the
// number of adjusted patterns.
func (c *Coordinator) ReanalyzePatterns() int {
	start := time.Now()
	n := c.patterns.Reanalyze()
	c.logSweep("pattern", n, time.Since(start))
	return n
}

func (c *Coordinator) logSweep(kind string, n int, d time.Duration) {
	if cl, ok := c.logger.(*logging.CoordLogger); ok {
		cl.LogSweep(kind, n, d)
		return
	}
	c.logger.Debug("sweep.completed", "sweep", kind, "count", n)
}
