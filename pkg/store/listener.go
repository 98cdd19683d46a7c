package store

import "riftlake/snapscan/pkg/domain"

// TupleRef is a live handle onto one slot, passed to every MutationListener
// notification. It lets the listener read and mutate the slot's flags
// in place, without a second table lookup by Address.
type TupleRef struct {
	table *Table
	block *Block
	slot  int
}

// Address returns the tuple's stable address.
func (r TupleRef) Address() Address {
	return Address{Block: r.block.id, Slot: r.slot}
}

// Block returns the block the tuple currently lives in.
func (r TupleRef) Block() *Block {
	return r.block
}

// Data returns the tuple's current row data.
func (r TupleRef) Data() domain.Row {
	r.block.mu.Lock()
	defer r.block.mu.Unlock()
	return r.block.slots[r.slot].data
}

// IsDirty reports whether the slot is currently dirty-marked.
func (r TupleRef) IsDirty() bool {
	r.block.mu.Lock()
	defer r.block.mu.Unlock()
	return r.block.slots[r.slot].dirty
}

// SetDirty sets or clears the slot's dirty flag.
func (r TupleRef) SetDirty(dirty bool) {
	r.block.mu.Lock()
	r.block.slots[r.slot].dirty = dirty
	r.block.mu.Unlock()
}

// IsPendingDelete reports whether the slot is logically deleted but not yet
// physically freed.
func (r TupleRef) IsPendingDelete() bool {
	r.block.mu.Lock()
	defer r.block.mu.Unlock()
	return r.block.slots[r.slot].pendingDelete
}

// IsPendingDeleteOnUndoRelease reports whether the slot's pending delete is
// tied to undo-release rather than to a snapshot scan.
func (r TupleRef) IsPendingDeleteOnUndoRelease() bool {
	r.block.mu.Lock()
	defer r.block.mu.Unlock()
	return r.block.slots[r.slot].pendingDeleteOnUndoRelease
}

// MutationListener is the contract the table invokes on every mutation. The
// table may host multiple concurrent snapshot contexts over the same data;
// it holds a list of listeners and notifies every one of them for every
// mutation. A *snapscan.Context implements this interface.
type MutationListener interface {
	// OnTupleInsert is called before the new tuple becomes visible.
	OnTupleInsert(tuple TupleRef)
	// OnTupleUpdate is called before the in-place update.
	OnTupleUpdate(tuple TupleRef)
	// OnTupleDelete is called before the tuple is removed. false means
	// "defer the physical free; mark pending-delete instead". When
	// multiple listeners are registered, the table only physically deletes
	// if every listener returns true (logical AND).
	OnTupleDelete(tuple TupleRef) bool
	// OnBlockCompactedAway is called after a block's live contents have
	// been relocated and before the block's memory is recycled.
	OnBlockCompactedAway(block *Block)
}
