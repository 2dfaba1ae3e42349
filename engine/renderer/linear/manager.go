package linear

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const (
	DefaultCPUPageSize uint64 = 0x200000 // 2MB
	DefaultGPUPageSize uint64 = 0x10000  // 64KB
	DefaultAlignment   uint64 = 256
)

type retiredPage struct {
	fence metadata.FenceValue
	id    uint32
}

// PageManager owns every page of one memory kind. Pages used by a finished
// command context wait in a pending list and are promoted to the available
// queue lazily, the next time a page is requested.
//
// A page leaves the pending list only when its fence completed and no
// Allocation references it. Allocations are never carved from a retired
// page, so its live count can only go down; once zero has been observed it
// stays zero and the check cannot race with Release.
type PageManager struct {
	device   metadata.Device
	kind     metadata.MemoryKind
	pageSize uint64
	metrics  *core.FrameMetrics

	mu        sync.Mutex
	pages     *containers.Arena[*Page]
	pending   []retiredPage
	available *containers.RingQueue[uint32]
	deletion  []retiredPage
}

func NewPageManager(device metadata.Device, kind metadata.MemoryKind, pageSize uint64, metrics *core.FrameMetrics) *PageManager {
	if pageSize == 0 {
		pageSize = DefaultGPUPageSize
		if kind == metadata.MemoryKindCPUWritable {
			pageSize = DefaultCPUPageSize
		}
	}
	return &PageManager{
		device:    device,
		kind:      kind,
		pageSize:  pageSize,
		metrics:   metrics,
		pages:     containers.NewArena[*Page](),
		available: containers.NewGrowableRingQueue[uint32](16),
	}
}

func (m *PageManager) Kind() metadata.MemoryKind {
	return m.kind
}

func (m *PageManager) PageSize() uint64 {
	return m.pageSize
}

// RequestPage returns a reset page from the available pool or a new one.
func (m *PageManager) RequestPage(isComplete metadata.FenceChecker) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateAvailablePages(isComplete)
	if !m.available.IsEmpty() {
		id, _ := m.available.Dequeue()
		page, ok := m.pages.Get(id)
		core.Assert(ok, "available %s page %d is not in the arena", m.kind, id)
		page.Reset()
		return page, nil
	}
	return m.createPage(m.pageSize, false)
}

// CreateLargePage creates a dedicated page for a request bigger than the
// page size. It never enters the available pool.
func (m *PageManager) CreateLargePage(size uint64) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPage(size, true)
}

func (m *PageManager) createPage(size uint64, large bool) (*Page, error) {
	name := fmt.Sprintf("linear-%s-%d", m.kind, m.pages.Len())
	buffer, err := m.device.CreateBuffer(name, size, m.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s linear page of %d bytes: %w", m.kind, size, err)
	}
	page := newPage(buffer, large)
	page.id = m.pages.Insert(page)
	if m.metrics != nil {
		m.metrics.PagesCreated.Add(1)
	}
	core.LogDebug("created %s linear page %d (%d bytes, large=%t)", m.kind, page.id, size, large)
	return page, nil
}

// DiscardPages queues pages touched by work that completes at fence.
func (m *PageManager) DiscardPages(fence metadata.FenceValue, pages []*Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range pages {
		core.Assert(!p.large, "large %s page %d discarded into the recycle pool", m.kind, p.id)
		m.pending = append(m.pending, retiredPage{fence: fence, id: p.id})
	}
}

// FreeLargePages queues large pages for destruction once fence completes.
func (m *PageManager) FreeLargePages(fence metadata.FenceValue, pages []*Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range pages {
		m.deletion = append(m.deletion, retiredPage{fence: fence, id: p.id})
	}
}

// UpdateAvailablePages promotes every pending page whose fence completed and
// whose allocations were all released, and destroys finished large pages.
// It returns the number of pages promoted.
func (m *PageManager) UpdateAvailablePages(isComplete metadata.FenceChecker) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAvailablePages(isComplete)
}

func (m *PageManager) updateAvailablePages(isComplete metadata.FenceChecker) int {
	promoted := 0
	kept := m.pending[:0]
	for _, r := range m.pending {
		page, ok := m.pages.Get(r.id)
		core.Assert(ok, "pending %s page %d is not in the arena", m.kind, r.id)
		if isComplete(r.fence) && page.live.Load() == 0 {
			_ = m.available.Enqueue(r.id)
			promoted++
			continue
		}
		kept = append(kept, r)
	}
	m.pending = kept

	keptLarge := m.deletion[:0]
	for _, r := range m.deletion {
		page, _ := m.pages.Get(r.id)
		if isComplete(r.fence) && page.live.Load() == 0 {
			page.buffer.Destroy()
			m.pages.Remove(r.id)
			continue
		}
		keptLarge = append(keptLarge, r)
	}
	m.deletion = keptLarge
	return promoted
}

// AvailablePages lists the ids currently in the available pool, front first.
func (m *PageManager) AvailablePages() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint32, 0, m.available.Len())
	for i := 0; i < m.available.Len(); i++ {
		id, _ := m.available.Dequeue()
		out = append(out, id)
		_ = m.available.Enqueue(id)
	}
	return out
}

func (m *PageManager) NumPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// NumPages counts live pages, large ones included.
func (m *PageManager) NumPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages.Len()
}

func (m *PageManager) Page(id uint32) (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages.Get(id)
}

func (m *PageManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pages.Each(func(id uint32, p *Page) {
		p.buffer.Destroy()
		m.pages.Remove(id)
	})
	m.pending = nil
	m.deletion = nil
	m.available = containers.NewGrowableRingQueue[uint32](16)
}

func (m *PageManager) release(a *Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	core.Assert(!a.released, "linear allocation [%d,+%d) of page %d released twice", a.Offset, a.Size, a.pageID)
	a.released = true
	page, ok := m.pages.Get(a.pageID)
	core.Assert(ok, "linear allocation references unknown page %d", a.pageID)
	page.live.Add(-1)
}
