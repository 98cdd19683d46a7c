package snapscan

import (
	"github.com/tiendc/go-deepcopy"

	"riftlake/snapscan/pkg/domain"
	"riftlake/snapscan/pkg/store"
)

var storeAddressZero store.Address

// preImage is one row preserved in the side table: the row's data as it
// stood at the moment it was saved, plus the address it was saved from.
type preImage struct {
	addr store.Address
	data domain.Row
}

// sideTable holds the pre-images of rows that were either mutated before
// the live scan cursor reached them, or relocated out from under it by a
// compaction before it visited them. Once the live phase finishes, the scan
// context drains this table as its backup phase.
type sideTable struct {
	pool    *rowPool
	entries []*preImage
	drained int
}

func newSideTable(pool *rowPool) *sideTable {
	return &sideTable{pool: pool}
}

// insertDeepCopy preserves row as it stands right now, deep-copying it so
// later in-place mutation of the live slot cannot corrupt the preserved
// image.
func (s *sideTable) insertDeepCopy(addr store.Address, row domain.Row) error {
	img := s.pool.get()
	img.addr = addr

	copied := make(domain.Row, len(row))
	if err := deepcopy.Copy(&copied, &row); err != nil {
		return err
	}
	img.data = copied

	s.entries = append(s.entries, img)
	return nil
}

// Len reports how many pre-images are still waiting to be drained.
func (s *sideTable) Len() int {
	return len(s.entries) - s.drained
}

// next returns the next undrained pre-image, or ok=false once the table is
// exhausted. The returned preImage is released back to the pool after the
// caller is done with it (see backupCursor.Next).
func (s *sideTable) next() (*preImage, bool) {
	if s.drained >= len(s.entries) {
		return nil, false
	}
	img := s.entries[s.drained]
	s.entries[s.drained] = nil
	s.drained++
	return img, true
}

// release returns a drained pre-image to the pool.
func (s *sideTable) release(img *preImage) {
	s.pool.put(img)
}
