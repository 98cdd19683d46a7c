// Package snapscan implements a copy-on-write snapshot scan over a
// partitioned, block-structured table: a scan that sees every row live as
// of the moment it is activated, without blocking concurrent inserts,
// updates, deletes or compaction for the rest of the table's lifetime.
package snapscan

import (
	"log"

	"riftlake/snapscan/pkg/domain"
	"riftlake/snapscan/pkg/store"
)

// Phase tags which half of the two-phase scan an iterator is in: reading
// still-live blocks directly, or draining the pre-images preserved from
// rows that were mutated or relocated before the cursor reached them.
type Phase int

const (
	PhaseScanLive Phase = iota
	PhaseDrainBackup
)

func (p Phase) String() string {
	switch p {
	case PhaseScanLive:
		return "scan-live"
	case PhaseDrainBackup:
		return "drain-backup"
	default:
		return "unknown"
	}
}

// scanIterator is the tagged union of the two cursor kinds a Context steps
// through. It starts in PhaseScanLive and flips to PhaseDrainBackup exactly
// once, the first time the live cursor reports it has nothing left.
type scanIterator struct {
	phase  Phase
	live   *liveCursor
	backup *backupCursor
}

// next returns the next row of the scan, which phase it came from, or
// ok=false once both phases are exhausted.
func (it *scanIterator) next() (domain.Row, store.Address, Phase, bool) {
	if it.phase == PhaseScanLive {
		if row, addr, ok := it.live.Next(); ok {
			return row, addr, PhaseScanLive, true
		}
		it.phase = PhaseDrainBackup
	}
	row, addr, ok := it.backup.Next()
	return row, addr, PhaseDrainBackup, ok
}

// Logger is the narrow interface Context uses for diagnostic output. The
// standard library's *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Config tunes a Context's bookkeeping.
type Config struct {
	// TrackTupleCount, when true, has Activate precompute the number of
	// rows the scan will ultimately emit and checks it against zero at
	// cleanup. When false, completion relies solely on cursor exhaustion,
	// which is cheaper to activate but gives reconciliation less to verify.
	TrackTupleCount bool
	// Logger receives diagnostic messages. Defaults to log.Default() via
	// NewContext when nil.
	Logger Logger
}

// Tuple is one row returned by Advance, paired with the address it was read
// from. FromBackup reports whether the row was drained from the
// preserved-image side table rather than read from a live slot by the
// cursor; CleanupTuple treats both kinds the same way, by their address.
type Tuple struct {
	Data       domain.Row
	Addr       store.Address
	FromBackup bool
}

// Context is a single copy-on-write snapshot scan over one table. It
// implements store.MutationListener: once Activate registers it with the
// table, every mutation is routed through it before becoming observable to
// any other reader, so the scan can preserve whatever pre-image its own
// cursor still needs.
type Context struct {
	table  *store.Table
	config Config
	logger Logger

	pool *rowPool
	side *sideTable
	it   *scanIterator

	activated         bool
	finishedTableScan bool
	blocksCompacted   int
	tuplesEmitted     int
	tuplesRemaining   int // -1 when Config.TrackTupleCount is false

	inserts              int
	updates              int
	deletes              int
	serializationBatches int
}

// NewContext creates an inactive scan context bound to table. Call Activate
// to start the scan.
func NewContext(table *store.Table, config Config) *Context {
	logger := config.Logger
	if logger == nil {
		logger = defaultLogger
	}
	return &Context{
		table:           table,
		config:          config,
		logger:          logger,
		tuplesRemaining: -1,
	}
}

// Activate arms the notification protocol and takes the snapshot's starting
// position. It is idempotent: calling it again on an already-active context
// is a no-op, matching a cursor that should not be able to rewind itself by
// reactivating mid-scan.
func (c *Context) Activate() {
	if c.activated {
		return
	}
	c.activated = true

	c.pool = newRowPool()
	c.side = newSideTable(c.pool)
	c.it = &scanIterator{
		phase:  PhaseScanLive,
		live:   newLiveCursor(c.table),
		backup: newBackupCursor(c.side),
	}

	c.table.Surgeon().ActivateSnapshot()
	c.table.RegisterListener(c)

	if c.config.TrackTupleCount {
		c.tuplesRemaining = c.it.live.countRemaining()
	}
}

// Advance returns the scan's next row, or ok=false once both the live
// table and the preserved pre-images have been fully drained.
func (c *Context) Advance() (Tuple, bool) {
	if !c.activated {
		return Tuple{}, false
	}

	wasLive := c.it.phase == PhaseScanLive
	data, addr, phase, ok := c.it.next()
	if !ok {
		c.finishedTableScan = true
		return Tuple{}, false
	}
	if wasLive && phase == PhaseDrainBackup {
		c.logger.Printf("[INFO] snapscan: table %s live blocks exhausted, draining %d preserved rows", c.table.Name(), c.side.Len()+1)
	}

	c.tuplesEmitted++
	if c.tuplesRemaining > 0 {
		c.tuplesRemaining--
	}

	return Tuple{Data: data, Addr: addr, FromBackup: phase == PhaseDrainBackup}, true
}

// CleanupTuple releases storage once the caller is done with a tuple it
// received from Advance. If the tuple is pending-delete (and that pending
// delete is not itself tied to an undo-release), its storage is freed right
// away — this scan was the one holding it back, so it is the one responsible
// for letting it go. Otherwise, if deleteTuple is true (set by a rebalancing
// flow that wraps the scan in a transaction), the surgeon is asked to delete
// it for undo instead. Otherwise this is an ordinary row the cursor simply
// read past, and cleanup is a no-op — a scan does not delete data nobody
// asked to delete.
func (c *Context) CleanupTuple(t Tuple, deleteTuple bool) error {
	if !c.activated {
		return nil
	}
	ref, ok := c.table.RefAt(t.Addr)
	if !ok {
		return nil // block no longer exists, e.g. retired by compaction
	}
	if ref.IsPendingDelete() && !ref.IsPendingDeleteOnUndoRelease() {
		return c.table.Surgeon().DeleteTupleStorage(ref)
	}
	if deleteTuple {
		return c.table.Surgeon().DeleteTupleForUndo(t.Addr, true)
	}
	return nil
}

// Deactivate unregisters the context from the table and releases its
// surgeon-side bookkeeping. Safe to call whether or not the scan ran to
// completion.
func (c *Context) Deactivate() {
	if !c.activated {
		return
	}
	c.table.UnregisterListener(c)
	c.table.Surgeon().DeactivateSnapshot()
	c.activated = false
}

// OnTupleInsert marks a newly inserted row dirty so this scan, whose
// snapshot predates the insert, never emits it even if it happens to land
// in a block the cursor has not yet finished.
func (c *Context) OnTupleInsert(tuple store.TupleRef) {
	if !c.activated {
		return
	}
	c.markDirty(tuple, true)
}

// OnTupleUpdate preserves the row's pre-image if the cursor has not yet
// read past it, then marks it dirty so the cursor skips the post-update
// value when it gets there; the pre-image surfaces later during the
// backup phase instead.
func (c *Context) OnTupleUpdate(tuple store.TupleRef) {
	if !c.activated {
		return
	}
	c.markDirty(tuple, false)
}

// markDirty implements the shared insert/update dirty-and-preserve policy.
// isNew distinguishes a brand-new row (never preserved, just hidden from
// this snapshot) from an updated one (pre-image preserved when needed).
func (c *Context) markDirty(tuple store.TupleRef, isNew bool) {
	if !isNew && tuple.IsDirty() {
		return
	}
	if c.finishedTableScan {
		tuple.SetDirty(false)
		return
	}
	addr := tuple.Address()
	if c.it.live.needToDirtyTuple(addr) {
		if isNew {
			tuple.SetDirty(true)
			c.inserts++
			return
		}
		if err := c.side.insertDeepCopy(addr, tuple.Data()); err != nil {
			c.logger.Printf("[ERROR] snapscan: failed to preserve pre-image for %v: %v", addr, err)
			return
		}
		tuple.SetDirty(true)
		c.updates++
		return
	}
	// Cursor has already passed this slot: it saw the pre-image itself.
	tuple.SetDirty(false)
}

// OnTupleDelete defers the physical free (via pending-delete) if the cursor
// has not yet read past the row, so it can still see the pre-image in
// place; otherwise the delete is safe to apply immediately. A row already
// dirty-marked (freshly inserted after activation, or already backed up)
// is never part of this snapshot in the first place, so it is always safe
// to free right away without touching the delete counter.
func (c *Context) OnTupleDelete(tuple store.TupleRef) bool {
	if !c.activated {
		return true
	}
	if tuple.IsDirty() || c.finishedTableScan {
		return true
	}
	c.deletes++
	return !c.it.live.needToDirtyTuple(tuple.Address())
}

// OnBlockCompactedAway preserves any not-yet-visited live row the
// compaction just relocated, then tells the live cursor to forget the
// retired block so it never tries to read its freed memory.
func (c *Context) OnBlockCompactedAway(block *store.Block) {
	if !c.activated || c.finishedTableScan {
		return
	}
	c.blocksCompacted++

	block.ForEachActiveSlot(func(slot int, data domain.Row, dirty bool) {
		if dirty {
			return
		}
		addr := store.Address{Block: block.ID(), Slot: slot}
		if !c.it.live.needToDirtyTuple(addr) {
			return
		}
		if err := c.side.insertDeepCopy(addr, data); err != nil {
			c.logger.Printf("[ERROR] snapscan: failed to preserve pre-image for compacted block %s slot %d: %v", block.ID(), slot, err)
		}
	})

	c.it.live.notifyBlockWasCompactedAway(block)
	c.table.Surgeon().SnapshotFinishedScanningBlock(block, nil)
}

// Stats summarizes the scan's progress for tests and diagnostics.
type Stats struct {
	Phase                Phase
	TuplesEmitted        int
	TuplesRemaining      int // -1 when untracked
	BlocksCompacted      int
	SidetableLen         int
	SkippedInactive      int // slots the live cursor walked past because they were already freed
	SkippedDirty         int // slots the live cursor walked past because a mutation dirty-marked them
	Inserts              int
	Updates              int
	Deletes              int
	SerializationBatches int
}

// Stats returns a snapshot of the context's current counters.
func (c *Context) Stats() Stats {
	s := Stats{
		TuplesEmitted:        c.tuplesEmitted,
		TuplesRemaining:      c.tuplesRemaining,
		BlocksCompacted:      c.blocksCompacted,
		Inserts:              c.inserts,
		Updates:              c.updates,
		Deletes:              c.deletes,
		SerializationBatches: c.serializationBatches,
	}
	if c.it != nil {
		s.Phase = c.it.phase
		s.SkippedInactive = c.it.live.skippedInactive
		s.SkippedDirty = c.it.live.skippedDirty
	}
	if c.side != nil {
		s.SidetableLen = c.side.Len()
	}
	return s
}

// RecordSerializationBatch is the hook a consumer's snapshot streamer calls
// each time it has flushed a batch of emitted rows downstream. The context
// does no serialization itself; this only keeps the counter consumers use
// to compare batching granularity against row throughput.
func (c *Context) RecordSerializationBatch() {
	c.serializationBatches++
}

var defaultLogger Logger = log.Default()
