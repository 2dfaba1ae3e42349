package descriptor

import (
	"github.com/google/btree"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const btreeDegree = 8

// Block is a run of descriptor slots inside a page.
type Block struct {
	Offset uint32
	Size   uint32
}

func (b Block) end() uint32 {
	return b.Offset + b.Size
}

type staleBlock struct {
	Block
	fence metadata.FenceValue
}

// Page is one CPU-visible descriptor heap carved into blocks. Free blocks are
// indexed twice: by offset for neighbor lookup when freeing, and by size for
// best-fit allocation.
type Page struct {
	id       uint32
	heap     metadata.DescriptorHeap
	capacity uint32
	numFree  uint32

	byOffset *btree.BTreeG[Block]
	bySize   *btree.BTreeG[Block]

	stale []staleBlock
}

func newPage(heap metadata.DescriptorHeap) *Page {
	p := &Page{
		heap:     heap,
		capacity: heap.NumDescriptors(),
		byOffset: btree.NewG(btreeDegree, func(a, b Block) bool {
			return a.Offset < b.Offset
		}),
		bySize: btree.NewG(btreeDegree, func(a, b Block) bool {
			if a.Size != b.Size {
				return a.Size < b.Size
			}
			return a.Offset < b.Offset
		}),
	}
	p.insertFree(Block{Offset: 0, Size: p.capacity})
	return p
}

func (p *Page) ID() uint32                    { return p.id }
func (p *Page) Heap() metadata.DescriptorHeap { return p.heap }
func (p *Page) Capacity() uint32              { return p.capacity }
func (p *Page) NumFree() uint32               { return p.numFree }

// FreeBlocks returns the free list ordered by offset.
func (p *Page) FreeBlocks() []Block {
	out := make([]Block, 0, p.byOffset.Len())
	p.byOffset.Ascend(func(b Block) bool {
		out = append(out, b)
		return true
	})
	return out
}

// HasSpace reports whether a single free block can hold n descriptors.
func (p *Page) HasSpace(n uint32) bool {
	if n > p.numFree {
		return false
	}
	_, ok := p.bestFit(n)
	return ok
}

func (p *Page) bestFit(n uint32) (Block, bool) {
	var found Block
	ok := false
	p.bySize.AscendGreaterOrEqual(Block{Size: n}, func(b Block) bool {
		found = b
		ok = true
		return false
	})
	return found, ok
}

func (p *Page) allocate(n uint32) (uint32, bool) {
	b, ok := p.bestFit(n)
	if !ok {
		return 0, false
	}
	p.removeFree(b)
	if b.Size > n {
		p.insertFree(Block{Offset: b.Offset + n, Size: b.Size - n})
	}
	return b.Offset, true
}

// free returns a block to the page, merging it with the free blocks right
// before and after it.
func (p *Page) free(offset, size uint32) {
	blk := Block{Offset: offset, Size: size}
	core.Assert(blk.end() <= p.capacity, "descriptor block [%d,%d) outside page %d of %d slots", offset, blk.end(), p.id, p.capacity)

	var left, right Block
	hasLeft, hasRight := false, false
	p.byOffset.DescendLessOrEqual(Block{Offset: offset}, func(b Block) bool {
		left, hasLeft = b, true
		return false
	})
	p.byOffset.AscendGreaterOrEqual(Block{Offset: offset}, func(b Block) bool {
		right, hasRight = b, true
		return false
	})

	core.Assert(!hasLeft || left.end() <= offset, "descriptor block [%d,%d) freed twice in page %d", offset, blk.end(), p.id)
	core.Assert(!hasRight || blk.end() <= right.Offset, "descriptor block [%d,%d) freed twice in page %d", offset, blk.end(), p.id)

	if hasLeft && left.end() == offset {
		p.removeFree(left)
		blk.Offset = left.Offset
		blk.Size += left.Size
	}
	if hasRight && right.Offset == offset+size {
		p.removeFree(right)
		blk.Size += right.Size
	}
	p.insertFree(blk)
}

func (p *Page) insertFree(b Block) {
	p.byOffset.ReplaceOrInsert(b)
	p.bySize.ReplaceOrInsert(b)
	p.numFree += b.Size
}

func (p *Page) removeFree(b Block) {
	p.byOffset.Delete(b)
	p.bySize.Delete(b)
	p.numFree -= b.Size
}

// releaseStale frees every deferred block whose fence completed.
func (p *Page) releaseStale(isComplete metadata.FenceChecker) int {
	released := 0
	kept := p.stale[:0]
	for _, s := range p.stale {
		if isComplete(s.fence) {
			p.free(s.Offset, s.Size)
			released++
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(p.stale); i++ {
		p.stale[i] = staleBlock{}
	}
	p.stale = kept
	return released
}
