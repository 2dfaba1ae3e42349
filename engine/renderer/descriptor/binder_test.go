package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/pipeline"
)

type heapRecorder struct {
	heaps []metadata.DescriptorHeap
}

func (r *heapRecorder) SetDescriptorHeap(_ metadata.DescriptorHeapType, heap metadata.DescriptorHeap) {
	r.heaps = append(r.heaps, heap)
}

type binderFixture struct {
	device   *null.Device
	cpu      *Allocator
	pool     *HeapPool
	owner    *heapRecorder
	binder   *Binder
	list     *null.CommandList
	complete bool
}

func newBinderFixture(t *testing.T, heapSize uint32) *binderFixture {
	t.Helper()
	f := &binderFixture{
		device: null.NewDevice(),
		owner:  &heapRecorder{},
	}
	f.cpu = NewAllocator(f.device, metadata.DescriptorHeapTypeResource, 64)
	f.pool = NewHeapPool(f.device, metadata.DescriptorHeapTypeResource, heapSize, nil)
	f.binder = NewBinder(f.device, f.pool, f.owner, func(metadata.FenceValue) bool { return f.complete })

	allocator, err := f.device.CreateCommandAllocator(metadata.QueueTypeGraphics)
	require.NoError(t, err)
	list, err := f.device.CreateCommandList(metadata.QueueTypeGraphics, allocator)
	require.NoError(t, err)
	f.list = list.(*null.CommandList)
	return f
}

// testLayout: root 0 is a constant buffer, root 1 a table of four shader
// resources (t0-t3), root 2 a sampler table.
func testLayout(t *testing.T) *pipeline.BindingLayout {
	t.Helper()
	layout, err := pipeline.NewBindingLayout(metadata.BindingLayoutDesc{
		Name: "test",
		Parameters: []metadata.RootParameterDesc{
			{Kind: metadata.RootParameterConstantBufferView, Slot: 0},
			{Kind: metadata.RootParameterDescriptorTable, Ranges: []metadata.DescriptorRangeDesc{
				{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 0, Count: 4},
			}},
			{Kind: metadata.RootParameterDescriptorTable, Ranges: []metadata.DescriptorRangeDesc{
				{Type: metadata.DescriptorTypeSampler, BaseSlot: 0, Count: 1},
			}},
		},
	})
	require.NoError(t, err)
	return layout
}

func (f *binderFixture) views(t *testing.T, n uint32) *Allocation {
	t.Helper()
	alloc, err := f.cpu.Allocate(n)
	require.NoError(t, err)
	for i := uint32(0); i < n; i++ {
		f.device.WriteDescriptor(alloc.Handle(i), metadata.DescriptorView{Type: metadata.DescriptorTypeShaderResource, Offset: uint64(alloc.Offset() + i)})
	}
	return alloc
}

func TestBinderCoalescesContiguousHandles(t *testing.T) {
	f := newBinderFixture(t, 64)
	f.binder.ParseGraphicsLayout(testLayout(t))

	src := f.views(t, 4)
	for i := uint32(0); i < 4; i++ {
		f.binder.BindGraphicsSlot(metadata.DescriptorTypeShaderResource, i, src.Handle(i))
	}
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))

	calls := f.device.CopyCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, uint32(4), calls[0][0].Count)

	require.Equal(t, 1, f.list.Count(null.OpSetGraphicsRootDescriptorTable))
	cmd := f.list.Commands()[0]
	assert.Equal(t, uint32(1), cmd.Root)
	assert.Equal(t, f.binder.CurrentHeap(), cmd.Base.Heap)

	// the shader-visible copy holds what was written to the CPU slots
	heap := cmd.Base.Heap.(*null.DescriptorHeap)
	for i := uint32(0); i < 4; i++ {
		assert.Equal(t, uint64(src.Offset()+i), heap.View(cmd.Base.Index+i).Offset)
	}
}

func TestBinderSplitsDiscontiguousHandles(t *testing.T) {
	f := newBinderFixture(t, 64)
	f.binder.ParseGraphicsLayout(testLayout(t))

	a := f.views(t, 2)
	f.views(t, 1) // gap in the CPU page
	b := f.views(t, 2)
	f.binder.SetGraphicsDescriptorHandles(1, 0, a.Handle(0), a.Handle(1), b.Handle(0), b.Handle(1))
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))

	calls := f.device.CopyCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, uint32(2), calls[0][0].Count)
	assert.Equal(t, uint32(2), calls[0][1].Count)
}

func TestBinderCommitIsNoopWhenClean(t *testing.T) {
	f := newBinderFixture(t, 64)
	f.binder.ParseGraphicsLayout(testLayout(t))
	src := f.views(t, 1)
	f.binder.BindGraphicsSlot(metadata.DescriptorTypeShaderResource, 0, src.Handle(0))

	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	assert.Len(t, f.device.CopyCalls(), 1)
	assert.Equal(t, 1, f.list.Count(null.OpSetGraphicsRootDescriptorTable))

	// a reset list needs its tables again
	f.binder.InvalidateRootTables()
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	assert.Equal(t, 2, f.list.Count(null.OpSetGraphicsRootDescriptorTable))
}

func TestBinderSwapsHeapWhenFull(t *testing.T) {
	f := newBinderFixture(t, 6)
	f.binder.ParseGraphicsLayout(testLayout(t))
	src := f.views(t, 4)

	bindAll := func() {
		for i := uint32(0); i < 4; i++ {
			f.binder.BindGraphicsSlot(metadata.DescriptorTypeShaderResource, i, src.Handle(i))
		}
	}
	bindAll()
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	first := f.binder.CurrentHeap()

	bindAll()
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	second := f.binder.CurrentHeap()

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, f.pool.NumHeaps())
	require.NotEmpty(t, f.owner.heaps)
	assert.Equal(t, second, f.owner.heaps[len(f.owner.heaps)-1])

	// both heaps go back to the pool, reusable once the fence completes
	f.binder.CleanupUsedHeaps(3)
	assert.Nil(t, f.binder.CurrentHeap())
	f.complete = true
	heap, err := f.pool.RequestHeap(func(metadata.FenceValue) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, first, heap)
	assert.Equal(t, 2, f.pool.NumHeaps())
}

func TestBinderUploadDirect(t *testing.T) {
	f := newBinderFixture(t, 8)
	src := f.views(t, 1)

	dst, err := f.binder.UploadDirect(src.Handle(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), dst.Index)
	assert.True(t, dst.Heap.ShaderVisible())

	dst, err = f.binder.UploadDirect(src.Handle(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), dst.Index)
	assert.Equal(t, src.Offset(), uint32(dst.Heap.(*null.DescriptorHeap).View(1).Offset))
}

func TestBinderCapacityViolationsAssert(t *testing.T) {
	f := newBinderFixture(t, 64)
	f.binder.ParseGraphicsLayout(testLayout(t))
	src := f.views(t, 2)

	requirePanicsWithContractViolation(t, func() {
		f.binder.SetGraphicsDescriptorHandles(1, 3, src.Handle(0), src.Handle(1))
	})
	requirePanicsWithContractViolation(t, func() {
		f.binder.BindGraphicsSlot(metadata.DescriptorTypeShaderResource, 9, src.Handle(0))
	})
	// root 0 is a constant buffer, root 2 a sampler table
	requirePanicsWithContractViolation(t, func() {
		f.binder.SetGraphicsDescriptorHandles(0, 0, src.Handle(0))
	})
	requirePanicsWithContractViolation(t, func() {
		f.binder.SetGraphicsDescriptorHandles(2, 0, src.Handle(0))
	})
}

func TestBinderTableLargerThanHeapAsserts(t *testing.T) {
	f := newBinderFixture(t, 2)
	f.binder.ParseGraphicsLayout(testLayout(t))
	src := f.views(t, 4)
	f.binder.SetGraphicsDescriptorHandles(1, 0, src.Handle(0), src.Handle(1), src.Handle(2), src.Handle(3))

	requirePanicsWithContractViolation(t, func() {
		_ = f.binder.CommitGraphicsRootDescriptorTables(f.list)
	})
}

func TestBinderLayoutChangeClearsStaging(t *testing.T) {
	f := newBinderFixture(t, 64)
	layout := testLayout(t)
	f.binder.ParseComputeLayout(layout)
	src := f.views(t, 1)
	f.binder.BindComputeSlot(metadata.DescriptorTypeShaderResource, 0, src.Handle(0))

	// same layout keeps what was staged
	f.binder.ParseComputeLayout(layout)
	require.NoError(t, f.binder.CommitComputeRootDescriptorTables(f.list))
	assert.Equal(t, 1, f.list.Count(null.OpSetComputeRootDescriptorTable))

	f.binder.BindComputeSlot(metadata.DescriptorTypeShaderResource, 0, src.Handle(0))
	f.binder.ParseComputeLayout(testLayout(t))
	require.NoError(t, f.binder.CommitComputeRootDescriptorTables(f.list))
	assert.Equal(t, 1, f.list.Count(null.OpSetComputeRootDescriptorTable))
}

func TestBinderFirstCommitKeepsOtherPipelineClean(t *testing.T) {
	f := newBinderFixture(t, 64)
	layout := testLayout(t)
	f.binder.ParseGraphicsLayout(layout)
	f.binder.ParseComputeLayout(layout)

	src := f.views(t, 2)
	f.binder.SetComputeDescriptorHandles(1, 0, src.Handle(0), src.Handle(1))
	require.NoError(t, f.binder.CommitComputeRootDescriptorTables(f.list))
	f.binder.SetGraphicsDescriptorHandles(1, 0, src.Handle(0))
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	assert.Zero(t, f.binder.compute.staleMap)
	require.Len(t, f.device.CopyCalls(), 2)

	// a heap that still has room is never swapped, so nothing is re-copied
	_, err := f.binder.UploadDirect(src.Handle(1))
	require.NoError(t, err)
	assert.Zero(t, f.binder.compute.staleMap)
	assert.Zero(t, f.binder.graphics.staleMap)
	f.device.ResetCopyCalls()
	require.NoError(t, f.binder.CommitComputeRootDescriptorTables(f.list))
	require.NoError(t, f.binder.CommitGraphicsRootDescriptorTables(f.list))
	assert.Empty(t, f.device.CopyCalls())
	assert.Len(t, f.owner.heaps, 3)
}
