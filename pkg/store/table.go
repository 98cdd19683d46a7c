package store

import (
	"sync"

	"riftlake/snapscan/pkg/domain"
)

const defaultBlockCapacity = 64

// Table is a sequence of fixed-size blocks of slotted tuples. It is the
// persistent table: the external collaborator a COW scan context interposes
// on. Every mutation fires a notification to every registered listener
// before the mutation becomes observable to anyone else, the same fan-out
// discipline an index manager uses to notify every index on every row
// mutation.
type Table struct {
	mu            sync.Mutex
	name          string
	schema        *domain.TableInfo
	blockCapacity int
	blocks        []*Block
	listeners     []MutationListener
	surgeon       *Surgeon
}

// NewTable creates an empty table with the given per-block capacity (rows
// per block). A capacity <= 0 uses defaultBlockCapacity.
func NewTable(name string, schema *domain.TableInfo, blockCapacity int) *Table {
	if blockCapacity <= 0 {
		blockCapacity = defaultBlockCapacity
	}
	t := &Table{
		name:          name,
		schema:        schema,
		blockCapacity: blockCapacity,
	}
	t.surgeon = newSurgeon(t)
	return t
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Schema returns the table's schema.
func (t *Table) Schema() *domain.TableInfo { return t.schema }

// Surgeon returns the table's privileged block-manipulation handle.
func (t *Table) Surgeon() *Surgeon { return t.surgeon }

// RegisterListener adds a mutation listener. Used by a snapscan.Context's
// Activate to arm the notification protocol.
func (t *Table) RegisterListener(l MutationListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// UnregisterListener removes a mutation listener, e.g. once a snapshot scan
// is destroyed.
func (t *Table) UnregisterListener(l MutationListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// Blocks returns the table's current block list. The slice is a snapshot of
// the block pointers, not a deep copy — it does not follow later changes, so
// a block compacted away after this call is still present in it.
func (t *Table) Blocks() []*Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Block, len(t.blocks))
	copy(out, t.blocks)
	return out
}

func (t *Table) lastBlockLocked() *Block {
	if len(t.blocks) == 0 {
		return nil
	}
	last := t.blocks[len(t.blocks)-1]
	if last.Len() >= t.blockCapacity {
		return nil
	}
	return last
}

// Insert appends a new tuple, allocating a fresh block if the last block is
// full. It fires OnTupleInsert on every registered listener before
// returning, so a concurrently-activated snapshot always learns about a
// just-inserted row before any caller can observe it.
func (t *Table) Insert(row domain.Row) Address {
	t.mu.Lock()

	block := t.lastBlockLocked()
	if block == nil {
		block = newBlock(t.blockCapacity)
		t.blocks = append(t.blocks, block)
	}

	block.mu.Lock()
	slot := len(block.slots)
	block.slots = append(block.slots, tupleSlot{data: row, active: true})
	block.live++
	block.mu.Unlock()

	listeners := append([]MutationListener(nil), t.listeners...)
	t.mu.Unlock()

	ref := TupleRef{table: t, block: block, slot: slot}
	for _, l := range listeners {
		l.OnTupleInsert(ref)
	}
	return ref.Address()
}

// RefAt resolves an address to a live TupleRef, for callers outside this
// package that need to act on a specific slot (a scan context freeing a
// tuple it has finished with, for instance).
func (t *Table) RefAt(addr Address) (TupleRef, bool) {
	block, slot, ok := t.find(addr)
	if !ok {
		return TupleRef{}, false
	}
	return TupleRef{table: t, block: block, slot: slot}, true
}

func (t *Table) find(addr Address) (*Block, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.blocks {
		if b.id == addr.Block {
			return b, addr.Slot, true
		}
	}
	return nil, 0, false
}

// Update replaces a tuple's data in place, firing OnTupleUpdate before the
// write is applied.
func (t *Table) Update(addr Address, newData domain.Row) bool {
	block, slot, ok := t.find(addr)
	if !ok {
		return false
	}

	t.mu.Lock()
	listeners := append([]MutationListener(nil), t.listeners...)
	t.mu.Unlock()

	ref := TupleRef{table: t, block: block, slot: slot}
	for _, l := range listeners {
		l.OnTupleUpdate(ref)
	}

	block.mu.Lock()
	if !block.slots[slot].active {
		block.mu.Unlock()
		return false
	}
	block.slots[slot].data = newData
	block.mu.Unlock()
	return true
}

// Delete removes a tuple. If every registered listener's OnTupleDelete
// returns true, the slot is freed immediately; otherwise it is marked
// pending-delete so a snapshot scan that has not yet passed it can still
// read its pre-image.
func (t *Table) Delete(addr Address) bool {
	block, slot, ok := t.find(addr)
	if !ok {
		return false
	}

	t.mu.Lock()
	listeners := append([]MutationListener(nil), t.listeners...)
	t.mu.Unlock()

	ref := TupleRef{table: t, block: block, slot: slot}
	safe := true
	for _, l := range listeners {
		if !l.OnTupleDelete(ref) {
			safe = false
		}
	}

	block.mu.Lock()
	defer block.mu.Unlock()
	if !block.slots[slot].active {
		return false
	}
	if safe {
		block.slots[slot].active = false
		block.slots[slot].data = nil
		block.live--
	} else {
		block.slots[slot].pendingDelete = true
	}
	return true
}

// freeSlot physically frees a slot, used by the surgeon's
// DeleteTupleStorage / DeleteTupleForUndo.
func (t *Table) freeSlot(block *Block, slot int) {
	block.mu.Lock()
	defer block.mu.Unlock()
	if slot < 0 || slot >= len(block.slots) || !block.slots[slot].active {
		return
	}
	block.slots[slot].active = false
	block.slots[slot].data = nil
	block.slots[slot].pendingDelete = false
	block.slots[slot].pendingDeleteOnUndoRelease = false
	block.live--
}

// Compact relocates every live tuple out of a block into the table's other
// blocks (allocating new ones as needed), then retires the emptied block.
// It fires OnBlockCompactedAway on every registered listener exactly once,
// after the tuples have been relocated but before the retired block's data
// is discarded — target is left untouched until after the notification so a
// listener can still read its slots one last time if it needs to.
func (t *Table) Compact(target *Block) {
	t.mu.Lock()

	idx := -1
	for i, b := range t.blocks {
		if b == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return
	}

	target.mu.Lock()
	movedRows := make([]domain.Row, 0, target.live)
	for _, s := range target.slots {
		if s.active {
			movedRows = append(movedRows, s.data)
		}
	}
	target.mu.Unlock()

	t.blocks = append(t.blocks[:idx], t.blocks[idx+1:]...)

	dest := t.lastBlockLocked()
	if dest != nil {
		// A block a snapshot cursor has not finished is never a destination:
		// rows relocated into it would be read by the cursor a second time.
		t.surgeon.mu.Lock()
		_, pending := t.surgeon.pendingBlocks[dest.id]
		t.surgeon.mu.Unlock()
		if pending {
			dest = nil
		}
	}
	if dest != nil {
		t.surgeon.beginLoad(dest)
	}
	for _, row := range movedRows {
		if dest == nil || dest.Len() >= t.blockCapacity {
			if dest != nil {
				t.surgeon.endLoad(dest)
			}
			dest = newBlock(t.blockCapacity)
			t.blocks = append(t.blocks, dest)
			t.surgeon.beginLoad(dest)
		}
		dest.mu.Lock()
		dest.slots = append(dest.slots, tupleSlot{data: row, active: true})
		dest.live++
		dest.mu.Unlock()
	}
	if dest != nil {
		t.surgeon.endLoad(dest)
	}

	listeners := append([]MutationListener(nil), t.listeners...)
	t.mu.Unlock()

	for _, l := range listeners {
		l.OnBlockCompactedAway(target)
	}
}
