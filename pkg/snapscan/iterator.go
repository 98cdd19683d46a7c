package snapscan

import (
	"riftlake/snapscan/pkg/domain"
	"riftlake/snapscan/pkg/store"
)

// liveCursor walks the table's blocks in the order they existed when the
// scan was activated, skipping inactive and dirty-marked slots. Blocks
// created by ordinary inserts after activation are never part of its
// queue, so they are never visited; a queued block that a compaction
// retires is dropped by notifyBlockWasCompactedAway after the context has
// preserved its unvisited rows.
type liveCursor struct {
	table *store.Table

	queue        []*store.Block
	currentBlock *store.Block
	nextSlot     int

	skippedInactive int
	skippedDirty    int
}

func newLiveCursor(table *store.Table) *liveCursor {
	return &liveCursor{
		table: table,
		queue: table.Blocks(),
	}
}

// advanceBlock moves the cursor to the next pending block, reporting the
// finished block to the table's surgeon so it is no longer considered
// pending.
func (c *liveCursor) advanceBlock() {
	if c.currentBlock != nil {
		var next *store.Block
		if len(c.queue) > 0 {
			next = c.queue[0]
		}
		c.table.Surgeon().SnapshotFinishedScanningBlock(c.currentBlock, next)
	}
	if len(c.queue) == 0 {
		c.currentBlock = nil
		return
	}
	c.currentBlock = c.queue[0]
	c.queue = c.queue[1:]
	c.nextSlot = 0
}

// Next returns the next live, non-dirty row, its address, or ok=false once
// every block in the queue has been exhausted.
func (c *liveCursor) Next() (domain.Row, store.Address, bool) {
	if c.currentBlock == nil && len(c.queue) == 0 {
		return nil, store.Address{}, false
	}
	for {
		if c.currentBlock == nil {
			c.advanceBlock()
			if c.currentBlock == nil {
				return nil, store.Address{}, false
			}
		}
		if c.nextSlot >= c.currentBlock.Len() {
			c.advanceBlock()
			if c.currentBlock == nil {
				return nil, store.Address{}, false
			}
			continue
		}

		slot := c.nextSlot
		data, active, dirty, ok := c.currentBlock.SlotView(slot)
		c.nextSlot++
		if !ok || !active {
			c.skippedInactive++
			continue
		}
		if dirty {
			c.skippedDirty++
			continue
		}
		return data, store.Address{Block: c.currentBlock.ID(), Slot: slot}, true
	}
}

// needToDirtyTuple reports whether the cursor has not yet read past addr,
// meaning a mutation at addr must be preserved rather than let it race the
// cursor's own read.
func (c *liveCursor) needToDirtyTuple(addr store.Address) bool {
	if c.currentBlock != nil && addr.Block == c.currentBlock.ID() {
		return addr.Slot >= c.nextSlot
	}
	for _, b := range c.queue {
		if b.ID() == addr.Block {
			return true
		}
	}
	return false
}

// notifyBlockWasCompactedAway drops block from the cursor's notion of work
// remaining. The caller is responsible for preserving any not-yet-visited
// live rows into the side table before calling this, since once it returns
// the block is never visited again.
func (c *liveCursor) notifyBlockWasCompactedAway(block *store.Block) {
	if c.currentBlock != nil && c.currentBlock.ID() == block.ID() {
		c.currentBlock = nil
	}
	filtered := c.queue[:0:0]
	for _, b := range c.queue {
		if b.ID() != block.ID() {
			filtered = append(filtered, b)
		}
	}
	c.queue = filtered
}

// countRemaining counts the live, non-dirty rows the cursor has not yet
// emitted, used for diagnostics rather than the hot path.
func (c *liveCursor) countRemaining() int {
	n := 0
	if c.currentBlock != nil {
		for i := c.nextSlot; i < c.currentBlock.Len(); i++ {
			if _, active, dirty, ok := c.currentBlock.SlotView(i); ok && active && !dirty {
				n++
			}
		}
	}
	for _, b := range c.queue {
		b.ForEachActiveSlot(func(_ int, _ domain.Row, dirty bool) {
			if !dirty {
				n++
			}
		})
	}
	return n
}

// finalizeBlock forces the cursor to hand its current block back to the
// surgeon's non-pending set once the context knows no further emissions are
// expected from it, instead of relying on one extra speculative Next() call
// to trigger that side effect.
func (c *liveCursor) finalizeBlock() {
	if c.currentBlock == nil {
		c.advanceBlock()
		if c.currentBlock == nil {
			return
		}
	}
	c.nextSlot = c.currentBlock.Len()
	c.advanceBlock()
}

// done reports whether the cursor has exhausted every block in its queue.
func (c *liveCursor) done() bool {
	return c.currentBlock == nil && len(c.queue) == 0
}

// backupCursor drains a side table's pre-images one at a time, each exactly
// once. Entries are only appended while the live cursor still has the
// mutated slot ahead of it, so none arrive once the live phase has ended.
type backupCursor struct {
	table *sideTable
}

func newBackupCursor(table *sideTable) *backupCursor {
	return &backupCursor{table: table}
}

// Next returns the next preserved row and the address it was preserved
// from, or ok=false once the side table is exhausted.
func (c *backupCursor) Next() (domain.Row, store.Address, bool) {
	img, ok := c.table.next()
	if !ok {
		return nil, store.Address{}, false
	}
	data, addr := img.data, img.addr
	c.table.release(img)
	return data, addr, true
}
