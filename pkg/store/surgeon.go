package store

import (
	"sync"

	"riftlake/snapscan/pkg/domain"
)

// Surgeon is the privileged handle a snapshot scan context uses to
// coordinate with a table's block management. It tracks which blocks are
// "pending" — currently owned by an active snapshot scan and not yet safe to
// reclaim — the same way a buffer pool tracks pinned pages separately from
// the ones it is free to evict.
type Surgeon struct {
	mu sync.Mutex

	table *Table

	// snapshotActive counts concurrently activated snapshots. A table can
	// host more than one scan context at a time.
	snapshotActive int

	// pendingBlocks are blocks a live scan cursor has not yet finished
	// visiting. They must not be recycled or reused as compaction
	// destinations while pending.
	pendingBlocks map[BlockID]struct{}

	// pendingLoadBlocks are blocks currently receiving tuples relocated by
	// an in-flight Compact call. Counted separately from pendingBlocks
	// because they represent write traffic into a block rather than a scan
	// cursor's read position.
	pendingLoadBlocks map[BlockID]struct{}
}

func newSurgeon(t *Table) *Surgeon {
	return &Surgeon{
		table:             t,
		pendingBlocks:     make(map[BlockID]struct{}),
		pendingLoadBlocks: make(map[BlockID]struct{}),
	}
}

// ActivateSnapshot registers the start of a new snapshot scan and marks
// every block currently in the table as pending, since a freshly activated
// cursor has not visited any of them yet.
func (s *Surgeon) ActivateSnapshot() {
	blocks := s.table.Blocks() // fetched before locking s.mu: Table.Blocks locks t.mu, and
	// Table.Compact locks t.mu before ever touching s.mu, so s.mu must never be held while
	// acquiring t.mu, only the other way around.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotActive++
	for _, b := range blocks {
		s.pendingBlocks[b.id] = struct{}{}
	}
}

// DeactivateSnapshot unregisters a finished or abandoned snapshot scan. It
// does not touch pendingBlocks — SnapshotFinishedScanningBlock is the only
// thing that clears an entry, whether the cursor walked off the block
// naturally or a compaction resolved it early. Any block left pending here
// is exactly what BlockCountConsistent is meant to catch.
func (s *Surgeon) DeactivateSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotActive > 0 {
		s.snapshotActive--
	}
}

// SnapshotFinishedScanningBlock marks a block as no longer pending, once a
// scan cursor has read every slot in it and moved on. nextBlock may be nil
// when the cursor has exhausted the table.
func (s *Surgeon) SnapshotFinishedScanningBlock(block *Block, nextBlock *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingBlocks, block.id)
}

// GetSnapshotPendingBlockCount reports how many blocks an active snapshot
// scan has not yet finished visiting.
func (s *Surgeon) GetSnapshotPendingBlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingBlocks)
}

// GetSnapshotPendingLoadBlockCount reports how many blocks are currently
// receiving tuples relocated by an in-flight compaction.
func (s *Surgeon) GetSnapshotPendingLoadBlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingLoadBlocks)
}

// BlockCountConsistent reports whether the table's bookkeeping is in a
// state a reconciliation pass would consider sound: no snapshot left
// pending blocks behind once deactivated, and no load is left dangling.
func (s *Surgeon) BlockCountConsistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotActive == 0 {
		return len(s.pendingBlocks) == 0 && len(s.pendingLoadBlocks) == 0
	}
	return true
}

// GetData returns the table's current block list, mirroring the buffer
// pool's raw page-table accessor.
func (s *Surgeon) GetData() []*Block {
	return s.table.Blocks()
}

// beginLoad marks a block as a live compaction destination.
func (s *Surgeon) beginLoad(block *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingLoadBlocks[block.id] = struct{}{}
}

// endLoad clears a block's compaction-destination marker.
func (s *Surgeon) endLoad(block *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingLoadBlocks, block.id)
}

// DeleteTupleStorage physically frees a tuple's slot immediately. Used by a
// snapshot context once it has passed an address and confirmed no one else
// still needs the pre-image.
func (s *Surgeon) DeleteTupleStorage(ref TupleRef) error {
	s.table.freeSlot(ref.block, ref.slot)
	return nil
}

// DeleteTupleForUndo frees a tuple's slot as part of rolling back an
// in-progress write, independent of any snapshot scan's cursor position.
func (s *Surgeon) DeleteTupleForUndo(addr Address, isTxnal bool) error {
	block, slot, ok := s.table.find(addr)
	if !ok {
		return domain.NewErrBlockNotFound(addr.Block.String())
	}
	s.table.freeSlot(block, slot)
	return nil
}
