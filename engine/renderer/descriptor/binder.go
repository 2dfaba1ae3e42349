package descriptor

import (
	"math/bits"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/pipeline"
)

// HeapSetter is told whenever the binder switches shader-visible heaps so the
// command list can be pointed at the new one.
type HeapSetter interface {
	SetDescriptorHeap(heapType metadata.DescriptorHeapType, heap metadata.DescriptorHeap)
}

type tableCache struct {
	// bit i set when slot i of the table was staged
	assigned uint64
	// first entry of the table inside handleCache.handles
	start uint32
	size  uint32
}

// handleCache stages the CPU-visible descriptors of one binding layout.
type handleCache struct {
	layout   *pipeline.BindingLayout
	tableMap uint32
	staleMap uint32
	tables   [pipeline.MaxDescriptorTables]tableCache
	handles  []metadata.DescriptorHandle
}

func (c *handleCache) parseLayout(layout *pipeline.BindingLayout, heapType metadata.DescriptorHeapType) {
	if c.layout == layout {
		return
	}
	c.clear()
	c.layout = layout
	if layout == nil {
		return
	}

	c.tableMap = layout.DescriptorTableBitMap(heapType)
	var total uint32
	for m := c.tableMap; m != 0; m &= m - 1 {
		root := uint32(bits.TrailingZeros32(m))
		size := layout.TableSize(root)
		c.tables[root] = tableCache{start: total, size: size}
		total += size
	}
	if uint32(cap(c.handles)) < total {
		c.handles = make([]metadata.DescriptorHandle, total)
	} else {
		c.handles = c.handles[:total]
		for i := range c.handles {
			c.handles[i] = metadata.DescriptorHandle{}
		}
	}
}

func (c *handleCache) clear() {
	c.layout = nil
	c.tableMap = 0
	c.staleMap = 0
	c.tables = [pipeline.MaxDescriptorTables]tableCache{}
	c.handles = c.handles[:0]
}

func (c *handleCache) stage(rootIndex, offset uint32, handles []metadata.DescriptorHandle) {
	core.Assert(rootIndex < pipeline.MaxDescriptorTables, "root parameter %d exceeds the %d table limit", rootIndex, pipeline.MaxDescriptorTables)
	core.Assert(c.tableMap&(1<<rootIndex) != 0, "root parameter %d is not a descriptor table of this heap type", rootIndex)
	tc := &c.tables[rootIndex]
	n := uint32(len(handles))
	core.Assert(offset+n <= tc.size, "staging %d descriptors at offset %d overflows table %d of %d", n, offset, rootIndex, tc.size)

	copy(c.handles[tc.start+offset:], handles)
	for i := uint32(0); i < n; i++ {
		tc.assigned |= 1 << (offset + i)
	}
	c.staleMap |= 1 << rootIndex
}

// stagedSize is the number of shader-visible slots the stale tables need.
func (c *handleCache) stagedSize() uint32 {
	var n uint32
	for m := c.staleMap; m != 0; m &= m - 1 {
		root := bits.TrailingZeros32(m)
		n += uint32(bits.Len64(c.tables[root].assigned))
	}
	return n
}

// unbindAllValid marks every table holding staged descriptors stale again.
func (c *handleCache) unbindAllValid() {
	c.staleMap = 0
	for m := c.tableMap; m != 0; m &= m - 1 {
		root := bits.TrailingZeros32(m)
		if c.tables[root].assigned != 0 {
			c.staleMap |= 1 << root
		}
	}
}

// Binder stages descriptor bindings for one command context and copies the
// dirty tables into a shader-visible heap right before a draw or dispatch.
// It is not safe for concurrent use.
type Binder struct {
	device     metadata.Device
	pool       *HeapPool
	owner      HeapSetter
	isComplete metadata.FenceChecker

	currentHeap   metadata.DescriptorHeap
	currentOffset uint32
	retiredHeaps  []metadata.DescriptorHeap

	graphics handleCache
	compute  handleCache
}

func NewBinder(device metadata.Device, pool *HeapPool, owner HeapSetter, isComplete metadata.FenceChecker) *Binder {
	return &Binder{
		device:     device,
		pool:       pool,
		owner:      owner,
		isComplete: isComplete,
	}
}

func (b *Binder) HeapType() metadata.DescriptorHeapType {
	return b.pool.HeapType()
}

// CurrentHeap is the shader-visible heap descriptors are copied into, nil
// until the first commit.
func (b *Binder) CurrentHeap() metadata.DescriptorHeap {
	return b.currentHeap
}

func (b *Binder) ParseGraphicsLayout(layout *pipeline.BindingLayout) {
	b.graphics.parseLayout(layout, b.HeapType())
}

func (b *Binder) ParseComputeLayout(layout *pipeline.BindingLayout) {
	b.compute.parseLayout(layout, b.HeapType())
}

func (b *Binder) SetGraphicsDescriptorHandles(rootIndex, offset uint32, handles ...metadata.DescriptorHandle) {
	b.graphics.stage(rootIndex, offset, handles)
}

func (b *Binder) SetComputeDescriptorHandles(rootIndex, offset uint32, handles ...metadata.DescriptorHandle) {
	b.compute.stage(rootIndex, offset, handles)
}

// BindGraphicsSlot stages a descriptor for a logical shader slot of the bound
// graphics layout.
func (b *Binder) BindGraphicsSlot(descriptorType metadata.DescriptorType, slot uint32, handle metadata.DescriptorHandle) {
	b.bindSlot(&b.graphics, descriptorType, slot, handle)
}

func (b *Binder) BindComputeSlot(descriptorType metadata.DescriptorType, slot uint32, handle metadata.DescriptorHandle) {
	b.bindSlot(&b.compute, descriptorType, slot, handle)
}

func (b *Binder) bindSlot(c *handleCache, descriptorType metadata.DescriptorType, slot uint32, handle metadata.DescriptorHandle) {
	core.Assert(c.layout != nil, "binding slot %d before a pipeline layout was set", slot)
	loc, ok := c.layout.Lookup(descriptorType, slot)
	core.Assert(ok, "layout %s declares no slot %d of type %d", c.layout.Name(), slot, descriptorType)
	c.stage(loc.Table, loc.Offset, []metadata.DescriptorHandle{handle})
}

func (b *Binder) CommitGraphicsRootDescriptorTables(list metadata.CommandList) error {
	return b.commit(&b.graphics, list.SetGraphicsRootDescriptorTable)
}

func (b *Binder) CommitComputeRootDescriptorTables(list metadata.CommandList) error {
	return b.commit(&b.compute, list.SetComputeRootDescriptorTable)
}

func (b *Binder) commit(c *handleCache, bind func(uint32, metadata.DescriptorHandle)) error {
	if c.staleMap == 0 {
		return nil
	}

	needed := c.stagedSize()
	if !b.hasSpace(needed) && b.retireCurrentHeap() {
		// tables bound from the retired heap must be copied into the next one
		b.InvalidateRootTables()
		needed = c.stagedSize()
	}
	core.Assert(needed <= b.pool.NumDescriptorsPerHeap(), "%d staged descriptors exceed a shader-visible heap of %d", needed, b.pool.NumDescriptorsPerHeap())
	if err := b.ensureHeap(); err != nil {
		return err
	}

	for m := c.staleMap; m != 0; m &= m - 1 {
		root := uint32(bits.TrailingZeros32(m))
		tc := &c.tables[root]
		count := uint32(bits.Len64(tc.assigned))
		dst := metadata.DescriptorHandle{Heap: b.currentHeap, Index: b.currentOffset}
		b.copyTable(dst, c.handles[tc.start:tc.start+count], tc.assigned)
		bind(root, dst)
		b.currentOffset += count
	}
	c.staleMap = 0
	return nil
}

// copyTable copies every run of assigned slots, merging handles that are
// already contiguous in their source heap into a single range.
func (b *Binder) copyTable(dst metadata.DescriptorHandle, handles []metadata.DescriptorHandle, assigned uint64) {
	n := uint32(len(handles))
	for i := uint32(0); i < n; {
		if assigned&(1<<i) == 0 {
			i++
			continue
		}
		runStart := i
		var ranges []metadata.DescriptorCopyRange
		for ; i < n && assigned&(1<<i) != 0; i++ {
			h := handles[i]
			if k := len(ranges); k > 0 {
				last := &ranges[k-1]
				if h.Follows(last.Src.Offset(last.Count - 1)) {
					last.Count++
					continue
				}
			}
			ranges = append(ranges, metadata.DescriptorCopyRange{Src: h, Count: 1})
		}
		b.device.CopyDescriptors(dst.Offset(runStart), ranges)
	}
}

// UploadDirect copies a single descriptor into the shader-visible heap and
// returns its location for immediate use.
func (b *Binder) UploadDirect(handle metadata.DescriptorHandle) (metadata.DescriptorHandle, error) {
	if !b.hasSpace(1) && b.retireCurrentHeap() {
		b.InvalidateRootTables()
	}
	if err := b.ensureHeap(); err != nil {
		return metadata.DescriptorHandle{}, err
	}
	dst := metadata.DescriptorHandle{Heap: b.currentHeap, Index: b.currentOffset}
	b.currentOffset++
	b.device.CopyDescriptors(dst, []metadata.DescriptorCopyRange{{Src: handle, Count: 1}})
	return dst, nil
}

// InvalidateRootTables marks every staged table stale so the next commit
// binds it again, as needed after the command list was reset.
func (b *Binder) InvalidateRootTables() {
	b.graphics.unbindAllValid()
	b.compute.unbindAllValid()
}

// CleanupUsedHeaps hands every heap touched since the last cleanup to the
// pool, gated by fence, and forgets all staged state.
func (b *Binder) CleanupUsedHeaps(fence metadata.FenceValue) {
	b.retireCurrentHeap()
	if len(b.retiredHeaps) > 0 {
		b.pool.DiscardHeaps(fence, b.retiredHeaps)
		b.retiredHeaps = b.retiredHeaps[:0]
	}
	b.graphics.clear()
	b.compute.clear()
}

func (b *Binder) hasSpace(n uint32) bool {
	return b.currentHeap != nil && b.currentOffset+n <= b.pool.NumDescriptorsPerHeap()
}

// ensureHeap makes sure a heap is current and that the owner's command list
// points at it.
func (b *Binder) ensureHeap() error {
	if b.currentHeap == nil {
		heap, err := b.pool.RequestHeap(b.isComplete)
		if err != nil {
			return err
		}
		b.currentHeap = heap
		b.currentOffset = 0
	}
	if b.owner != nil {
		b.owner.SetDescriptorHeap(b.HeapType(), b.currentHeap)
	}
	return nil
}

// retireCurrentHeap reports whether a heap holding descriptors was retired.
func (b *Binder) retireCurrentHeap() bool {
	// an untouched heap goes straight back to the next commit
	if b.currentHeap == nil || b.currentOffset == 0 {
		return false
	}
	b.retiredHeaps = append(b.retiredHeaps, b.currentHeap)
	b.currentHeap = nil
	b.currentOffset = 0
	return true
}
