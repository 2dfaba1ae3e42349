package descriptor

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
)

func newTestAllocator(pageSize uint32) (*Allocator, *null.Device) {
	device := null.NewDevice()
	return NewAllocator(device, metadata.DescriptorHeapTypeResource, pageSize), device
}

func mustAllocate(t *testing.T, a *Allocator, n uint32) *Allocation {
	t.Helper()
	alloc, err := a.Allocate(n)
	require.NoError(t, err)
	return alloc
}

func requirePanicsWithContractViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a contract violation")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, core.ErrContractViolation))
	}()
	fn()
}

func TestAllocatorCoalescesNeighbours(t *testing.T) {
	a, _ := newTestAllocator(16)

	first := mustAllocate(t, a, 4)
	second := mustAllocate(t, a, 4)
	third := mustAllocate(t, a, 4)
	assert.Equal(t, []uint32{0, 4, 8}, []uint32{first.Offset(), second.Offset(), third.Offset()})

	page := a.Pages()[0]
	assert.Equal(t, []Block{{Offset: 12, Size: 4}}, page.FreeBlocks())

	second.Free()
	assert.Equal(t, []Block{{Offset: 4, Size: 4}, {Offset: 12, Size: 4}}, page.FreeBlocks())

	first.Free()
	assert.Equal(t, []Block{{Offset: 0, Size: 8}, {Offset: 12, Size: 4}}, page.FreeBlocks())

	third.Free()
	assert.Equal(t, []Block{{Offset: 0, Size: 16}}, page.FreeBlocks())
	assert.Equal(t, uint32(16), page.NumFree())
}

func TestAllocatorFullPageMergesOnFree(t *testing.T) {
	a, _ := newTestAllocator(16)

	first := mustAllocate(t, a, 4)
	second := mustAllocate(t, a, 4)
	third := mustAllocate(t, a, 8)
	assert.Equal(t, uint32(8), third.Offset())

	page := a.Pages()[0]
	assert.Empty(t, page.FreeBlocks())

	second.Free()
	assert.Equal(t, []Block{{Offset: 4, Size: 4}}, page.FreeBlocks())
	first.Free()
	assert.Equal(t, []Block{{Offset: 0, Size: 8}}, page.FreeBlocks())
}

func TestAllocatorBestFitInsidePage(t *testing.T) {
	a, _ := newTestAllocator(32)

	blocks := make([]*Allocation, 0, 5)
	for _, n := range []uint32{8, 2, 4, 6, 12} {
		blocks = append(blocks, mustAllocate(t, a, n))
	}
	// free holes of 8 at 0 and 4 at 10
	blocks[0].Free()
	blocks[2].Free()

	fit := mustAllocate(t, a, 3)
	assert.Equal(t, uint32(10), fit.Offset())
}

func TestAllocatorGrowsPageSizeWatermark(t *testing.T) {
	a, device := newTestAllocator(8)

	mustAllocate(t, a, 6)
	big := mustAllocate(t, a, 20)
	assert.Equal(t, uint32(0), big.Offset())
	assert.Equal(t, 2, device.Created("heap"))

	pages := a.Pages()
	require.Len(t, pages, 2)
	assert.Equal(t, uint32(20), pages[1].Capacity())

	// later pages keep the raised watermark
	mustAllocate(t, a, 3)
	pages = a.Pages()
	require.Len(t, pages, 3)
	assert.Equal(t, uint32(20), pages[2].Capacity())
}

func TestAllocatorFirstFitAcrossPages(t *testing.T) {
	a, _ := newTestAllocator(8)

	x := mustAllocate(t, a, 8)
	y := mustAllocate(t, a, 8)
	assert.NotEqual(t, x.PageID(), y.PageID())

	x.Free()
	z := mustAllocate(t, a, 2)
	assert.Equal(t, x.PageID(), z.PageID())
}

func TestAllocatorZeroSize(t *testing.T) {
	a, device := newTestAllocator(8)

	alloc := mustAllocate(t, a, 0)
	assert.True(t, alloc.IsNull())
	assert.Equal(t, 0, device.Created("heap"))
	assert.NotPanics(t, func() { alloc.Release(1) })
}

func TestAllocatorDeferredRelease(t *testing.T) {
	a, _ := newTestAllocator(8)
	alloc := mustAllocate(t, a, 8)
	page := a.Pages()[0]

	const fence = metadata.FenceValue(5)
	alloc.Release(fence)
	assert.Equal(t, uint32(0), page.NumFree())

	assert.Equal(t, 0, a.ReleaseStaleDescriptors(func(v metadata.FenceValue) bool { return v < fence }))
	assert.Equal(t, uint32(0), page.NumFree())

	assert.Equal(t, 1, a.ReleaseStaleDescriptors(func(metadata.FenceValue) bool { return true }))
	assert.Equal(t, []Block{{Offset: 0, Size: 8}}, page.FreeBlocks())
}

func TestAllocatorDoubleReleaseAsserts(t *testing.T) {
	a, _ := newTestAllocator(8)
	alloc := mustAllocate(t, a, 2)
	alloc.Release(1)
	requirePanicsWithContractViolation(t, func() { alloc.Release(2) })
}

func TestAllocatorHandleOutOfRangeAsserts(t *testing.T) {
	a, _ := newTestAllocator(8)
	alloc := mustAllocate(t, a, 2)
	assert.Equal(t, uint32(1), alloc.Handle(1).Index)
	requirePanicsWithContractViolation(t, func() { alloc.Handle(2) })
}

func TestAllocatorBlocksTilePage(t *testing.T) {
	const capacity = 64
	a, _ := newTestAllocator(capacity)
	rng := rand.New(rand.NewSource(7))

	var live []*Allocation
	for step := 0; step < 500; step++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			i := rng.Intn(len(live))
			live[i].Free()
			live = append(live[:i], live[i+1:]...)
		} else {
			n := uint32(rng.Intn(8) + 1)
			alloc := mustAllocate(t, a, n)
			if alloc.PageID() != 0 {
				// only the first page is checked
				alloc.Free()
			} else {
				live = append(live, alloc)
			}
		}
		checkTiling(t, a.Pages()[0], live)
	}
}

func checkTiling(t *testing.T, page *Page, live []*Allocation) {
	t.Helper()

	blocks := page.FreeBlocks()
	for i := 1; i < len(blocks); i++ {
		// disjoint and never adjacent
		require.Less(t, blocks[i-1].end(), blocks[i].Offset)
	}
	for _, l := range live {
		blocks = append(blocks, Block{Offset: l.Offset(), Size: l.Count()})
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Offset < blocks[j].Offset })

	var at uint32
	for _, b := range blocks {
		require.Equal(t, at, b.Offset, "gap or overlap at %d", at)
		at = b.end()
	}
	require.Equal(t, page.Capacity(), at)
}
