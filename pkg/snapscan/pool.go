package snapscan

import "sync"

// rowPool recycles the small scratch structs churned out while preserving
// pre-images, the same way a buffer pool recycles page frames instead of
// letting the allocator absorb the traffic.
type rowPool struct {
	pool sync.Pool
}

func newRowPool() *rowPool {
	return &rowPool{
		pool: sync.Pool{
			New: func() interface{} { return &preImage{} },
		},
	}
}

func (p *rowPool) get() *preImage {
	return p.pool.Get().(*preImage)
}

func (p *rowPool) put(img *preImage) {
	img.addr = storeAddressZero
	img.data = nil
	p.pool.Put(img)
}
