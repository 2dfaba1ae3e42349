package descriptor

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Allocator hands out ranges of CPU-visible descriptors of one heap type.
// It searches its pages first-fit (best fit inside a page) and creates a new
// page when none has room; it never fails for lack of space.
type Allocator struct {
	device   metadata.Device
	heapType metadata.DescriptorHeapType

	mu sync.Mutex
	// watermark for the size of new pages
	pageSize uint32
	pages    *containers.Arena[*Page]
	// page ids in creation order
	order []uint32
}

func NewAllocator(device metadata.Device, heapType metadata.DescriptorHeapType, pageSize uint32) *Allocator {
	return &Allocator{
		device:   device,
		heapType: heapType,
		pageSize: pageSize,
		pages:    containers.NewArena[*Page](),
	}
}

func (a *Allocator) HeapType() metadata.DescriptorHeapType {
	return a.heapType
}

// Allocate reserves n contiguous descriptors. A zero-size request returns an
// empty allocation.
func (a *Allocator) Allocate(n uint32) (*Allocation, error) {
	if n == 0 {
		return &Allocation{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range a.order {
		page, _ := a.pages.Get(id)
		if offset, ok := page.allocate(n); ok {
			return a.newAllocation(page, offset, n), nil
		}
	}

	if n > a.pageSize {
		a.pageSize = n
	}
	page, err := a.createPage(a.pageSize)
	if err != nil {
		return nil, err
	}
	offset, ok := page.allocate(n)
	core.Assert(ok, "fresh %s descriptor page of %d slots cannot hold %d", a.heapType, page.capacity, n)
	return a.newAllocation(page, offset, n), nil
}

func (a *Allocator) createPage(size uint32) (*Page, error) {
	heap, err := a.device.CreateDescriptorHeap(a.heapType, size, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s descriptor page of %d slots: %w", a.heapType, size, err)
	}
	page := newPage(heap)
	page.id = a.pages.Insert(page)
	a.order = append(a.order, page.id)
	core.LogDebug("created %s descriptor page %d with %d slots", a.heapType, page.id, size)
	return page, nil
}

func (a *Allocator) newAllocation(page *Page, offset, n uint32) *Allocation {
	return &Allocation{
		owner:  a,
		pageID: page.id,
		offset: offset,
		count:  n,
		base:   metadata.DescriptorHandle{Heap: page.heap, Index: offset},
	}
}

// ReleaseStaleDescriptors returns to the free lists every released range
// whose fence completed. It reports how many ranges were reclaimed.
func (a *Allocator) ReleaseStaleDescriptors(isComplete metadata.FenceChecker) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	released := 0
	for _, id := range a.order {
		page, _ := a.pages.Get(id)
		released += page.releaseStale(isComplete)
	}
	return released
}

// Pages returns the pages in creation order.
func (a *Allocator) Pages() []*Page {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Page, 0, len(a.order))
	for _, id := range a.order {
		p, _ := a.pages.Get(id)
		out = append(out, p)
	}
	return out
}

func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range a.order {
		p, _ := a.pages.Get(id)
		p.heap.Destroy()
		a.pages.Remove(id)
	}
	a.order = nil
}

func (a *Allocator) release(pageID, offset, count uint32, fence metadata.FenceValue, deferred bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	page, ok := a.pages.Get(pageID)
	core.Assert(ok, "descriptor allocation references unknown page %d", pageID)
	if !deferred {
		page.free(offset, count)
		return
	}
	page.stale = append(page.stale, staleBlock{Block: Block{Offset: offset, Size: count}, fence: fence})
}

// Allocation is a range of descriptors inside one page. It remembers its page
// by id, never by pointer.
type Allocation struct {
	owner    *Allocator
	pageID   uint32
	offset   uint32
	count    uint32
	base     metadata.DescriptorHandle
	released bool
}

func (d *Allocation) IsNull() bool {
	return d.count == 0
}

func (d *Allocation) Count() uint32 {
	return d.count
}

func (d *Allocation) Offset() uint32 {
	return d.offset
}

func (d *Allocation) PageID() uint32 {
	return d.pageID
}

// Handle returns the i-th descriptor of the range.
func (d *Allocation) Handle(i uint32) metadata.DescriptorHandle {
	core.Assert(i < d.count, "descriptor index %d out of range (count=%d)", i, d.count)
	return d.base.Offset(i)
}

// Release gives the range back once fence completes; the slots may still be
// referenced by work submitted up to that fence.
func (d *Allocation) Release(fence metadata.FenceValue) {
	d.release(fence, true)
}

// Free gives the range back immediately. Only valid when no submitted work
// references it.
func (d *Allocation) Free() {
	d.release(0, false)
}

func (d *Allocation) release(fence metadata.FenceValue, deferred bool) {
	if d.IsNull() {
		return
	}
	core.Assert(!d.released, "descriptor range [%d,%d) of page %d released twice", d.offset, d.offset+d.count, d.pageID)
	d.released = true
	d.owner.release(d.pageID, d.offset, d.count, fence, deferred)
}
