package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/command"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptor"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/linear"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
)

type retired struct {
	fence    metadata.FenceValue
	resource metadata.GPUResource
}

// recordingFactory creates resources on a null device and remembers what
// it was asked to do.
type recordingFactory struct {
	device  *null.Device
	created []string
	retired []retired
	fail    error
}

func (f *recordingFactory) CreateTexture(name string, desc metadata.TextureDesc) (metadata.GPUResource, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.created = append(f.created, name)
	return f.device.CreateTexture(name, desc)
}

func (f *recordingFactory) CreateRenderTarget(name string, desc metadata.RenderTargetDesc) (metadata.GPUResource, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.created = append(f.created, name)
	return f.device.CreateRenderTarget(name, desc)
}

func (f *recordingFactory) CreateDepthTarget(name string, desc metadata.DepthTargetDesc) (metadata.GPUResource, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.created = append(f.created, name)
	return f.device.CreateDepthTarget(name, desc)
}

func (f *recordingFactory) RetireResource(fence metadata.FenceValue, resource metadata.GPUResource) {
	f.retired = append(f.retired, retired{fence: fence, resource: resource})
}

type graphFixture struct {
	device   *null.Device
	factory  *recordingFactory
	contexts *command.ContextManager
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	device := null.NewDevice()
	queues, err := command.NewQueueManager(device, nil)
	require.NoError(t, err)
	contexts := command.NewContextManager(command.ContextManagerConfig{
		Device:        device,
		Queues:        queues,
		CPUPages:      linear.NewPageManager(device, metadata.MemoryKindCPUWritable, 4096, nil),
		GPUPages:      linear.NewPageManager(device, metadata.MemoryKindGPUExclusive, 4096, nil),
		ResourceHeaps: descriptor.NewHeapPool(device, metadata.DescriptorHeapTypeResource, 64, nil),
		SamplerHeaps:  descriptor.NewHeapPool(device, metadata.DescriptorHeapTypeSampler, 16, nil),
	})
	t.Cleanup(func() {
		contexts.DestroyAll()
		queues.Destroy()
	})
	return &graphFixture{
		device:   device,
		factory:  &recordingFactory{device: device},
		contexts: contexts,
	}
}

func (f *graphFixture) begin(t *testing.T) *command.Context {
	t.Helper()
	c, err := f.contexts.Begin(metadata.QueueTypeGraphics, t.Name())
	require.NoError(t, err)
	return c
}

func colourTarget() RenderTargetResource {
	return RenderTargetResource{Desc: metadata.RenderTargetDesc{Width: 8, Height: 8, Format: metadata.FormatRGBA8Unorm}}
}

func requireViolation(t *testing.T, fn func()) {
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

func TestWriteCreatesNewVersion(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)
	defer g.Close()

	var h0, h1, h2 ResourceHandle
	g.AddPass("a", func(b *PassBuilder) PassFunc {
		h0 = b.Create("colour", colourTarget())
		h1 = b.Write(h0, metadata.ResourceStateRenderTarget)
		h2 = b.Write(h1, metadata.ResourceStateRenderTarget)
		return nil
	})
	assert.Equal(t, uint32(0), g.Version(h0))
	assert.Equal(t, g.Version(h0)+1, g.Version(h1))
	assert.Equal(t, g.Version(h1)+1, g.Version(h2))
	assert.Equal(t, "colour", g.Name(h2))

	// the old version stays addressable
	assert.Equal(t, "colour", g.Name(h0))
}

func TestWriteOfStaleVersionAsserts(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)
	defer g.Close()

	requireViolation(t, func() {
		g.AddPass("a", func(b *PassBuilder) PassFunc {
			h0 := b.Create("colour", colourTarget())
			b.Write(h0, metadata.ResourceStateRenderTarget)
			b.Write(h0, metadata.ResourceStateRenderTarget)
			return nil
		})
	})
}

func TestReadIsIdempotent(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)
	defer g.Close()

	var h ResourceHandle
	g.AddPass("producer", func(b *PassBuilder) PassFunc {
		h = b.Write(b.Create("colour", colourTarget()), metadata.ResourceStateRenderTarget)
		return nil
	})
	nodes := len(g.nodes)

	g.AddPass("consumer", func(b *PassBuilder) PassFunc {
		first := b.Read(h, metadata.ResourceStatePixelShaderResource)
		second := b.Read(h, metadata.ResourceStateNonPixelShaderResource)
		assert.Equal(t, first, second)
		assert.Equal(t, h, first)
		assert.Len(t, b.pass.reads, 1)
		assert.Equal(t, metadata.ResourceStateShaderResource, b.pass.reads[0].state)
		return nil
	})
	assert.Equal(t, nodes, len(g.nodes))
}

func TestCompileCullsUnreadPass(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)

	var ran []string
	record := func(name string) PassFunc {
		return func(*Resolver, *command.Context) error {
			ran = append(ran, name)
			return nil
		}
	}

	var h0, h1, scratch ResourceHandle
	g.AddPass("A", func(b *PassBuilder) PassFunc {
		h0 = b.Create("h", colourTarget())
		h1 = b.Write(h0, metadata.ResourceStateRenderTarget)
		return record("A")
	})
	g.AddPass("B", func(b *PassBuilder) PassFunc {
		b.Read(h1, metadata.ResourceStatePixelShaderResource)
		b.SideEffect()
		return record("B")
	})
	g.AddPass("C", func(b *PassBuilder) PassFunc {
		scratch = b.Create("c-scratch", colourTarget())
		b.Write(h1, metadata.ResourceStateRenderTarget)
		b.Write(scratch, metadata.ResourceStateRenderTarget)
		return record("C")
	})

	g.Compile()
	assert.False(t, g.IsCulled("A"))
	assert.False(t, g.IsCulled("B"))
	assert.True(t, g.IsCulled("C"))

	cmd := f.begin(t)
	require.NoError(t, g.Execute(cmd))
	assert.Equal(t, []string{"A", "B"}, ran)
	assert.Equal(t, []string{"h"}, f.factory.created)
	assert.True(t, g.IsMaterialized(h1))
	assert.False(t, g.IsMaterialized(scratch))

	fence, err := cmd.Finish(context.Background(), false)
	require.NoError(t, err)
	g.Retire(fence)
	g.Close()

	require.Len(t, f.factory.retired, 1)
	assert.Equal(t, fence, f.factory.retired[0].fence)
	assert.Equal(t, "h", f.factory.retired[0].resource.Name())
}

func TestCompileKeepsTransitiveProducers(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)
	defer g.Close()

	backbuffer, err := f.device.CreateRenderTarget("backbuffer", metadata.RenderTargetDesc{Width: 8, Height: 8, Format: metadata.FormatBGRA8Unorm})
	require.NoError(t, err)
	bb := g.Import("backbuffer", backbuffer)

	var gbuf, lit ResourceHandle
	g.AddPass("gbuffer", func(b *PassBuilder) PassFunc {
		gbuf = b.Write(b.Create("albedo", colourTarget()), metadata.ResourceStateRenderTarget)
		return nil
	})
	g.AddPass("lighting", func(b *PassBuilder) PassFunc {
		b.Read(gbuf, metadata.ResourceStatePixelShaderResource)
		lit = b.Write(b.Create("hdr", colourTarget()), metadata.ResourceStateRenderTarget)
		return nil
	})
	g.AddPass("present", func(b *PassBuilder) PassFunc {
		b.Read(lit, metadata.ResourceStatePixelShaderResource)
		// writing an imported resource is a side effect
		b.Write(bb, metadata.ResourceStateRenderTarget)
		return nil
	})
	g.Compile()

	for _, name := range []string{"gbuffer", "lighting", "present"} {
		assert.False(t, g.IsCulled(name), name)
	}
}

func TestExecuteTransitionsAndResolves(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)

	backbuffer, err := f.device.CreateRenderTarget("backbuffer", metadata.RenderTargetDesc{Width: 8, Height: 8, Format: metadata.FormatBGRA8Unorm})
	require.NoError(t, err)
	bb := g.Import("backbuffer", backbuffer)

	var depth, lit ResourceHandle
	g.AddPass("draw", func(b *PassBuilder) PassFunc {
		depth = b.Write(b.Create("depth", DepthTargetResource{Desc: metadata.DepthTargetDesc{Width: 8, Height: 8, Format: metadata.FormatD32Float}}), metadata.ResourceStateDepthWrite)
		lit = b.Write(b.Create("", TextureResource{Desc: metadata.TextureDesc{Width: 8, Height: 8, Format: metadata.FormatRGBA16Float, UnorderedAccess: true}}), metadata.ResourceStateUnorderedAccess)
		return func(res *Resolver, cmd *command.Context) error {
			assert.Equal(t, metadata.ResourceStateDepthWrite, res.Resource(depth).UsageState())
			assert.Equal(t, metadata.ResourceStateUnorderedAccess, res.Resource(lit).UsageState())
			return nil
		}
	})
	var presented ResourceHandle
	g.AddPass("present", func(b *PassBuilder) PassFunc {
		b.Read(lit, metadata.ResourceStatePixelShaderResource)
		presented = b.Write(bb, metadata.ResourceStateRenderTarget)
		return func(res *Resolver, cmd *command.Context) error {
			assert.Same(t, backbuffer, res.Resource(presented))
			// depth was not declared by this pass
			requireViolation(t, func() { res.Resource(depth) })
			requireViolation(t, func() { res.Resource(ResourceHandle{}) })
			return nil
		}
	})
	g.Compile()

	cmd := f.begin(t)
	require.NoError(t, g.Execute(cmd))
	assert.Len(t, f.factory.created, 2)
	assert.Contains(t, f.factory.created[1], "transient-")
	assert.GreaterOrEqual(t, cmd.CommandList().(*null.CommandList).Count(null.OpResourceBarrier), 2)

	fence, err := cmd.Finish(context.Background(), false)
	require.NoError(t, err)
	g.Retire(fence)
	g.Close()

	// imported resources are never retired
	assert.Len(t, f.factory.retired, 2)
	for _, r := range f.factory.retired {
		assert.NotSame(t, backbuffer, r.resource)
	}
}

func TestExecuteSurfacesErrors(t *testing.T) {
	f := newGraphFixture(t)
	boom := errors.New("boom")

	g := New(f.factory)
	g.AddPass("fails", func(b *PassBuilder) PassFunc {
		b.Write(b.Create("x", colourTarget()), metadata.ResourceStateRenderTarget)
		b.SideEffect()
		return func(*Resolver, *command.Context) error { return boom }
	})
	g.Compile()
	cmd := f.begin(t)
	assert.ErrorIs(t, g.Execute(cmd), boom)
	cmd.Discard()
	g.Retire(0)
	g.Close()

	f.factory.fail = boom
	g = New(f.factory)
	g.AddPass("creates", func(b *PassBuilder) PassFunc {
		b.Write(b.Create("y", colourTarget()), metadata.ResourceStateRenderTarget)
		b.SideEffect()
		return nil
	})
	g.Compile()
	cmd = f.begin(t)
	assert.ErrorIs(t, g.Execute(cmd), boom)
	cmd.Discard()
	g.Retire(0)
	g.Close()
}

func TestCloseWithoutRetireAsserts(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)
	g.AddPass("a", func(b *PassBuilder) PassFunc {
		b.SideEffect()
		return nil
	})
	g.Compile()
	cmd := f.begin(t)
	require.NoError(t, g.Execute(cmd))
	defer cmd.Discard()

	requireViolation(t, g.Close)
	assert.Equal(t, StateExecuted, g.State())

	g.Retire(0)
	g.Close()
	assert.Equal(t, StateClosed, g.State())
}

func TestLifecycleOrderAsserts(t *testing.T) {
	f := newGraphFixture(t)
	g := New(f.factory)
	defer g.Close()

	requireViolation(t, func() { g.Retire(0) })
	g.Compile()
	assert.Equal(t, StateCompiled, g.State())
	requireViolation(t, g.Compile)
	requireViolation(t, func() {
		g.AddPass("late", func(*PassBuilder) PassFunc { return nil })
	})
}
