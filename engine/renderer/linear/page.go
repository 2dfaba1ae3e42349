package linear

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Page is a buffer handed out front to back by a bump offset. The offset is
// only rewound by Reset, once no allocation and no GPU work references it.
type Page struct {
	id       uint32
	buffer   metadata.Buffer
	capacity uint64
	offset   uint64
	large    bool
	// outstanding Allocations
	live atomic.Int32
}

func newPage(buffer metadata.Buffer, large bool) *Page {
	return &Page{
		buffer:   buffer,
		capacity: buffer.Size(),
		large:    large,
	}
}

func (p *Page) ID() uint32              { return p.id }
func (p *Page) Buffer() metadata.Buffer { return p.buffer }
func (p *Page) Capacity() uint64        { return p.capacity }
func (p *Page) Offset() uint64          { return p.offset }
func (p *Page) IsLarge() bool           { return p.large }
func (p *Page) LiveAllocations() int32  { return p.live.Load() }

// Reset rewinds the bump offset.
func (p *Page) Reset() {
	p.offset = 0
}

// Allocation is a range of a Page. The page is referenced by id so a
// released page can never be reached through a stale pointer.
type Allocation struct {
	manager  *PageManager
	pageID   uint32
	released bool

	Buffer metadata.Buffer
	Offset uint64
	Size   uint64
	// CPU is nil for GPU-exclusive memory.
	CPU        []byte
	GPUAddress uint64
}

func (a *Allocation) PageID() uint32 {
	return a.pageID
}

// Release drops the allocation's hold on its page. The bytes stay reserved
// until the page is reset.
func (a *Allocation) Release() {
	a.manager.release(a)
}
