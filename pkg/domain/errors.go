package domain

import "fmt"

// ErrBlockNotFound reports a lookup against a block that has already been
// retired (compacted away or returned past its lifetime).
type ErrBlockNotFound struct {
	BlockID string
}

func (e *ErrBlockNotFound) Error() string {
	return fmt.Sprintf("block %s not found", e.BlockID)
}

// NewErrBlockNotFound creates an ErrBlockNotFound.
func NewErrBlockNotFound(blockID string) *ErrBlockNotFound {
	return &ErrBlockNotFound{BlockID: blockID}
}
