package store

import (
	"sync"

	"riftlake/snapscan/pkg/domain"
)

// tupleSlot is one slot in a block: a tuple plus the flags the COW scan
// context and the surgeon coordinate over.
type tupleSlot struct {
	data                       domain.Row
	active                     bool // false once the slot has been freed
	dirty                      bool // mutated since the last snapshot's activation
	pendingDelete              bool // logically deleted, physical free deferred
	pendingDeleteOnUndoRelease bool // deleted for undo; freed on undo-release, not by a snapshot
}

// Block is a fixed-capacity, dense array of tuple slots. Addresses within a
// live block are stable for the block's lifetime; compaction may move a
// tuple to a different block, which gives it a new Address.
type Block struct {
	mu    sync.Mutex
	id    BlockID
	slots []tupleSlot
	live  int // count of active slots
}

func newBlock(capacity int) *Block {
	return &Block{
		id:    newBlockID(),
		slots: make([]tupleSlot, 0, capacity),
	}
}

// ID returns the block's identity.
func (b *Block) ID() BlockID {
	return b.id
}

// Len returns the number of slots the block currently holds (active and
// inactive).
func (b *Block) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// LiveCount returns the number of active (non-freed) slots.
func (b *Block) LiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// at returns a copy of the slot at the given index. Safe to call with the
// block unlocked by the caller; it takes its own lock.
func (b *Block) at(slot int) (tupleSlot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.slots) {
		return tupleSlot{}, false
	}
	return b.slots[slot], true
}

// SlotView reads one slot's data and flags without exposing the slot type
// itself. Used by the COW iterator and the scan context's compaction
// handling, which both live outside this package.
func (b *Block) SlotView(slot int) (data domain.Row, active bool, dirty bool, ok bool) {
	s, ok := b.at(slot)
	if !ok {
		return nil, false, false, false
	}
	return s.data, s.active, s.dirty, true
}

// ForEachActiveSlot calls fn for every currently active slot, in slot order.
// Used by the scan context to find rows that need a pre-image preserved
// when their block is compacted away.
func (b *Block) ForEachActiveSlot(fn func(slot int, data domain.Row, dirty bool)) {
	b.mu.Lock()
	snapshot := make([]tupleSlot, len(b.slots))
	copy(snapshot, b.slots)
	b.mu.Unlock()

	for i, s := range snapshot {
		if s.active {
			fn(i, s.data, s.dirty)
		}
	}
}
