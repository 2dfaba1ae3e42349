package linear

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
)

type fakeFences struct {
	completed metadata.FenceValue
}

func (f *fakeFences) isComplete(v metadata.FenceValue) bool {
	return v <= f.completed
}

func alwaysComplete(metadata.FenceValue) bool { return true }

func newTestManager(kind metadata.MemoryKind, pageSize uint64) (*PageManager, *null.Device) {
	device := null.NewDevice()
	return NewPageManager(device, kind, pageSize, core.NewFrameMetrics()), device
}

func TestAllocatorAlignsAndBumps(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindCPUWritable, 1024)
	a := NewAllocator(m, alwaysComplete)

	first, err := a.Allocate(10, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Offset)
	assert.Equal(t, uint64(16), first.Size)
	assert.Len(t, first.CPU, 16)

	second, err := a.Allocate(100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultAlignment), second.Offset)
	assert.Equal(t, first.Buffer.GPUAddress()+second.Offset, second.GPUAddress)
	assert.Equal(t, first.PageID(), second.PageID())
}

func TestAllocatorGPUExclusiveHasNoCPUView(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindGPUExclusive, 0)
	assert.Equal(t, DefaultGPUPageSize, m.PageSize())

	a := NewAllocator(m, alwaysComplete)
	alloc, err := a.Allocate(64, 0)
	require.NoError(t, err)
	assert.Nil(t, alloc.CPU)
	assert.NotZero(t, alloc.GPUAddress)
}

func TestAllocatorAbandonsFullPage(t *testing.T) {
	m, device := newTestManager(metadata.MemoryKindCPUWritable, 512)
	a := NewAllocator(m, alwaysComplete)

	first, err := a.Allocate(300, 0)
	require.NoError(t, err)
	second, err := a.Allocate(300, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.PageID(), second.PageID())
	assert.Equal(t, uint64(0), second.Offset)
	assert.Equal(t, 2, device.Created("buffer"))
}

func TestAllocatorBadAlignmentAsserts(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindCPUWritable, 512)
	a := NewAllocator(m, alwaysComplete)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, errors.Is(r.(error), core.ErrContractViolation))
	}()
	_, _ = a.Allocate(8, 24)
}

func TestPageNotReusedWhileLive(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindCPUWritable, 512)
	fences := &fakeFences{}
	a := NewAllocator(m, fences.isComplete)

	held, err := a.Allocate(128, 0)
	require.NoError(t, err)
	a.CleanupUsedPages(1)

	// fence complete but an allocation is still live
	fences.completed = 1
	assert.Equal(t, 0, m.UpdateAvailablePages(fences.isComplete))

	next, err := a.Allocate(128, 0)
	require.NoError(t, err)
	assert.NotEqual(t, held.PageID(), next.PageID())
	copy(next.CPU, []byte("other"))
	assert.NotEqual(t, []byte("other"), held.CPU[:5])

	held.Release()
	assert.Equal(t, 1, m.UpdateAvailablePages(fences.isComplete))
	assert.Equal(t, []uint32{held.PageID()}, m.AvailablePages())
}

func TestPageNotReusedBeforeFence(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindGPUExclusive, 256)
	fences := &fakeFences{}
	a := NewAllocator(m, fences.isComplete)

	alloc, err := a.Allocate(64, 0)
	require.NoError(t, err)
	alloc.Release()
	a.CleanupUsedPages(7)

	assert.Equal(t, 0, m.UpdateAvailablePages(fences.isComplete))
	assert.Equal(t, 1, m.NumPending())

	fences.completed = 7
	page, err := m.RequestPage(fences.isComplete)
	require.NoError(t, err)
	assert.Equal(t, alloc.PageID(), page.ID())
	assert.Equal(t, uint64(0), page.Offset())
	assert.Equal(t, 0, m.NumPending())
}

func TestUpdateAvailablePagesPromotesEachPageOnce(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindCPUWritable, 256)

	var ids []uint32
	for ctx := 0; ctx < 3; ctx++ {
		a := NewAllocator(m, func(metadata.FenceValue) bool { return false })
		for i := 0; i < 3; i++ {
			alloc, err := a.Allocate(200, 0)
			require.NoError(t, err)
			alloc.Release()
			ids = append(ids, alloc.PageID())
		}
		a.CleanupUsedPages(metadata.FenceValue(ctx + 1))
	}
	// a page that still has a live allocation stays pending
	a := NewAllocator(m, func(metadata.FenceValue) bool { return false })
	held, err := a.Allocate(8, 0)
	require.NoError(t, err)
	a.CleanupUsedPages(9)

	assert.Equal(t, 9, m.UpdateAvailablePages(alwaysComplete))
	assert.Equal(t, 0, m.UpdateAvailablePages(alwaysComplete))
	assert.ElementsMatch(t, ids, m.AvailablePages())
	assert.Equal(t, 1, m.NumPending())
	assert.Equal(t, int32(1), mustPage(t, m, held.PageID()).LiveAllocations())
}

func TestLargePagesBypassRecycling(t *testing.T) {
	m, device := newTestManager(metadata.MemoryKindCPUWritable, 256)
	fences := &fakeFences{}
	a := NewAllocator(m, fences.isComplete)

	big, err := a.Allocate(1000, 0)
	require.NoError(t, err)
	page := mustPage(t, m, big.PageID())
	assert.True(t, page.IsLarge())
	assert.Equal(t, uint64(1024), page.Capacity())

	a.CleanupUsedPages(4)
	assert.Equal(t, 0, m.NumPending())

	// complete but still referenced
	fences.completed = 4
	m.UpdateAvailablePages(fences.isComplete)
	assert.Equal(t, 0, device.Destroyed("buffer"))

	big.Release()
	m.UpdateAvailablePages(fences.isComplete)
	assert.Equal(t, 1, device.Destroyed("buffer"))
	assert.Empty(t, m.AvailablePages())
	assert.Equal(t, 0, m.NumPages())
}

func TestLargePageWaitsForFence(t *testing.T) {
	m, device := newTestManager(metadata.MemoryKindGPUExclusive, 256)
	fences := &fakeFences{}
	a := NewAllocator(m, fences.isComplete)

	big, err := a.Allocate(4096, 0)
	require.NoError(t, err)
	big.Release()
	a.CleanupUsedPages(2)

	m.UpdateAvailablePages(fences.isComplete)
	assert.Equal(t, 0, device.Destroyed("buffer"))

	fences.completed = 2
	m.UpdateAvailablePages(fences.isComplete)
	assert.Equal(t, 1, device.Destroyed("buffer"))
}

func TestDoubleReleaseAsserts(t *testing.T) {
	m, _ := newTestManager(metadata.MemoryKindCPUWritable, 256)
	a := NewAllocator(m, alwaysComplete)
	alloc, err := a.Allocate(8, 0)
	require.NoError(t, err)
	alloc.Release()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, errors.Is(r.(error), core.ErrContractViolation))
	}()
	alloc.Release()
}

func TestManagerSurfacesBufferErrors(t *testing.T) {
	boom := errors.New("out of device memory")
	m := NewPageManager(null.NewDevice(null.WithBufferFailure(boom)), metadata.MemoryKindCPUWritable, 256, nil)
	a := NewAllocator(m, alwaysComplete)

	_, err := a.Allocate(8, 0)
	assert.ErrorIs(t, err, boom)
}

func mustPage(t *testing.T, m *PageManager, id uint32) *Page {
	t.Helper()
	p, ok := m.Page(id)
	require.True(t, ok)
	return p
}
