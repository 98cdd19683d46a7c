package snapscan

// Cleanup reconciles a finished or abandoned scan's bookkeeping against the
// table's surgeon. It should be called once after the caller has stopped
// calling Advance, whether that is because Advance reported completion or
// because the caller gave up early.
//
// A fatal inconsistency (the surgeon still thinks blocks are pending after
// the scan is torn down) panics with ErrBlockCountInconsistent, since it
// means either this package has a bug or a concurrent caller bypassed the
// notification protocol. A non-fatal one (the tracked remaining-tuple
// counter did not reach zero) is logged and returned as an error, since
// counter drift alone does not prove a row was lost.
func (c *Context) Cleanup() error {
	if !c.activated {
		return nil
	}

	if !c.finishedTableScan {
		c.drainRemainingBlocks()
	}

	var nonFatal error
	if c.config.TrackTupleCount && c.tuplesRemaining != 0 {
		c.logger.Printf("[ERROR] snapscan: table %s tuplesRemaining=%d at cleanup, expected 0", c.table.Name(), c.tuplesRemaining)
		nonFatal = NewErrTuplesRemaining(c.table.Name(), c.tuplesRemaining)
	}

	c.Deactivate()

	surgeon := c.table.Surgeon()
	if !surgeon.BlockCountConsistent() {
		panic(NewErrBlockCountInconsistent(
			c.table.Name(),
			surgeon.GetSnapshotPendingBlockCount(),
			surgeon.GetSnapshotPendingLoadBlockCount(),
		))
	}

	return nonFatal
}

// drainRemainingBlocks is the best-effort repair path for a caller that
// calls Cleanup before Advance has ever reported exhaustion (an early
// cancellation). It releases every block the live cursor still holds
// pending, without bothering to preserve or emit their remaining rows —
// an abandoned scan has no one left to deliver them to.
func (c *Context) drainRemainingBlocks() {
	for !c.it.live.done() {
		c.it.live.finalizeBlock()
	}
}
