package store

import "github.com/google/uuid"

// BlockID identifies a block for its entire lifetime. Blocks need identity
// for logging and for the surgeon's pending-block bookkeeping but never
// need ordering, so a UUID is the right shape (unlike a tuple Address,
// which must compare so the COW iterator can tell whether it has passed a
// slot).
type BlockID uuid.UUID

func newBlockID() BlockID {
	return BlockID(uuid.New())
}

func (b BlockID) String() string {
	return uuid.UUID(b).String()
}

// Address is a tuple's stable byte-address: the block it lives in plus its
// slot index within that block. It survives compaction of other blocks
// (the tuple's own block may change, but its Address is re-derived then,
// never mutated in place).
type Address struct {
	Block BlockID
	Slot  int
}
