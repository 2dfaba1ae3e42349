package linear

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Allocator bump-allocates from one page at a time. Each command context
// owns one per memory kind; it is not safe for concurrent use.
type Allocator struct {
	manager    *PageManager
	isComplete metadata.FenceChecker

	current *Page
	retired []*Page
	large   []*Page
}

func NewAllocator(manager *PageManager, isComplete metadata.FenceChecker) *Allocator {
	return &Allocator{
		manager:    manager,
		isComplete: isComplete,
	}
}

func (a *Allocator) Kind() metadata.MemoryKind {
	return a.manager.Kind()
}

// Allocate reserves size bytes aligned to alignment (DefaultAlignment when
// zero). When the current page cannot fit the request it is abandoned, even
// if partially empty.
func (a *Allocator) Allocate(size, alignment uint64) (*Allocation, error) {
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	core.Assert(math.IsPowerOfTwo(alignment), "linear allocation alignment %d is not a power of two", alignment)
	alignedSize := math.AlignUp(size, alignment)

	if alignedSize > a.manager.PageSize() {
		page, err := a.manager.CreateLargePage(alignedSize)
		if err != nil {
			return nil, err
		}
		a.large = append(a.large, page)
		return a.carve(page, 0, alignedSize), nil
	}

	if a.current != nil && math.AlignUp(a.current.offset, alignment)+alignedSize > a.current.capacity {
		a.retired = append(a.retired, a.current)
		a.current = nil
	}
	if a.current == nil {
		page, err := a.manager.RequestPage(a.isComplete)
		if err != nil {
			return nil, err
		}
		a.current = page
	}

	offset := math.AlignUp(a.current.offset, alignment)
	return a.carve(a.current, offset, alignedSize), nil
}

func (a *Allocator) carve(page *Page, offset, size uint64) *Allocation {
	page.offset = offset + size
	page.live.Add(1)

	alloc := &Allocation{
		manager:    a.manager,
		pageID:     page.id,
		Buffer:     page.buffer,
		Offset:     offset,
		Size:       size,
		GPUAddress: page.buffer.GPUAddress() + offset,
	}
	if mapped := page.buffer.Mapped(); mapped != nil {
		alloc.CPU = mapped[offset : offset+size]
	}
	return alloc
}

// CleanupUsedPages hands every page touched since the last cleanup back to
// the manager, gated by fence.
func (a *Allocator) CleanupUsedPages(fence metadata.FenceValue) {
	if a.current != nil {
		a.retired = append(a.retired, a.current)
		a.current = nil
	}
	if len(a.retired) > 0 {
		a.manager.DiscardPages(fence, a.retired)
		a.retired = a.retired[:0]
	}
	if len(a.large) > 0 {
		a.manager.FreeLargePages(fence, a.large)
		a.large = a.large[:0]
	}
}
