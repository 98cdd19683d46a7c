package snapscan

// CheckRemainingTuples logs a diagnostic snapshot of the scan's progress
// under label, useful for bracketing a suspect stretch of caller code
// between two calls and comparing the counters. It is a read-only probe:
// it never mutates context state and is safe to call at any point in the
// scan's lifetime, including before Activate or after Cleanup.
func (c *Context) CheckRemainingTuples(label string) {
	if !c.activated {
		c.logger.Printf("[INFO] snapscan: %s: table=%s inactive", label, c.table.Name())
		return
	}

	stats := c.Stats()
	liveRemaining := -1
	if c.it != nil && c.it.phase == PhaseScanLive {
		liveRemaining = c.it.live.countRemaining()
	}

	c.logger.Printf(
		"[INFO] snapscan: %s: table=%s phase=%s emitted=%d tracked_remaining=%d live_remaining=%d sidetable=%d blocks_compacted=%d skipped_inactive=%d skipped_dirty=%d",
		label, c.table.Name(), stats.Phase, stats.TuplesEmitted, stats.TuplesRemaining, liveRemaining, stats.SidetableLen, stats.BlocksCompacted,
		stats.SkippedInactive, stats.SkippedDirty,
	)
}
