package testbed

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	emath "github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/command"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptor"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/pipeline"
)

// spirvMagic stands in for shader bytecode on devices that never compile it.
var spirvMagic = []byte{0x03, 0x02, 0x23, 0x07}

type TestGame struct {
	*engine.Game
	shaderDir string
}

type gameState struct {
	mu     sync.Mutex
	width  uint32
	height uint32
	time   float64

	gbufferLayout  *pipeline.BindingLayout
	lightingLayout *pipeline.BindingLayout
	tonemapLayout  *pipeline.BindingLayout

	gbuffer  *pipeline.State
	lighting *pipeline.State
	tonemap  *pipeline.State

	backbuffer       metadata.GPUResource
	bbWidth          uint32
	bbHeight         uint32
	albedoMap        metadata.GPUResource
	albedoMapView    *descriptor.Allocation
	triangle         metadata.Buffer
	triangleView     *descriptor.Allocation
	linearSampler    *descriptor.Allocation
	lastFence        metadata.FenceValue
	frameViews       []*descriptor.Allocation
	loggedFirstFrame bool
}

func NewTestGame(shaderDir string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:        "Anima RHI Testbed",
				StartWidth:  1280,
				StartHeight: 720,
			},
			State: &gameState{},
		},
		shaderDir: shaderDir,
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnEndFrame = tg.EndFrame
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) loadShader(name string) ([]byte, error) {
	code, err := os.ReadFile(filepath.Join(g.shaderDir, name+".spv"))
	if err == nil {
		return code, nil
	}
	if g.Renderer.Device().Name() == "null" {
		return spirvMagic, nil
	}
	return nil, fmt.Errorf("failed to load shader %s: %w", name, err)
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")
	if g.Renderer == nil {
		return fmt.Errorf("the engine did not hand over a renderer")
	}
	s := g.state()

	if err := g.createLayouts(); err != nil {
		return err
	}
	if err := g.createPipelines(); err != nil {
		return err
	}

	r := g.Renderer
	tex, err := r.CreateTexture("albedo-map", metadata.TextureDesc{
		TextureType: metadata.TextureType2d,
		Width:       256,
		Height:      256,
		MipLevels:   1,
		Format:      metadata.FormatRGBA8Unorm,
	})
	if err != nil {
		return err
	}
	s.albedoMap = tex
	if s.albedoMapView, err = r.CreateView(metadata.DescriptorView{Type: metadata.DescriptorTypeShaderResource, Resource: tex}); err != nil {
		return err
	}

	// one full screen triangle, pulled by the vertex shader
	vertices := []float32{-1, -1, 0, 3, -1, 0, -1, 3, 0}
	data := make([]byte, 4*len(vertices))
	for i, v := range vertices {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	if s.triangle, err = r.CreateBuffer(context.Background(), "fullscreen-triangle", uint64(len(data)), data); err != nil {
		return err
	}
	if s.triangleView, err = r.CreateView(metadata.DescriptorView{Type: metadata.DescriptorTypeShaderResource, Resource: s.triangle}); err != nil {
		return err
	}
	if s.linearSampler, err = r.CreateView(metadata.DescriptorView{Type: metadata.DescriptorTypeSampler}); err != nil {
		return err
	}
	return nil
}

func (g *TestGame) createLayouts() error {
	s := g.state()
	var err error
	s.gbufferLayout, err = pipeline.NewBindingLayout(metadata.BindingLayoutDesc{
		Name: "gbuffer",
		Parameters: []metadata.RootParameterDesc{
			{Kind: metadata.RootParameterConstantBufferView, Visibility: metadata.ShaderStageAllGraphics, Slot: 0},
			{Kind: metadata.RootParameterDescriptorTable, Visibility: metadata.ShaderStageAllGraphics, Ranges: []metadata.DescriptorRangeDesc{
				{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 0, Count: 2},
			}},
			{Kind: metadata.RootParameterDescriptorTable, Visibility: metadata.ShaderStagePixel, Ranges: []metadata.DescriptorRangeDesc{
				{Type: metadata.DescriptorTypeSampler, BaseSlot: 0, Count: 1},
			}},
		},
	})
	if err != nil {
		return err
	}
	s.lightingLayout, err = pipeline.NewBindingLayout(metadata.BindingLayoutDesc{
		Name: "lighting",
		Parameters: []metadata.RootParameterDesc{
			{Kind: metadata.RootParameterConstantBufferView, Visibility: metadata.ShaderStagePixel, Slot: 0},
			{Kind: metadata.RootParameterDescriptorTable, Visibility: metadata.ShaderStagePixel, Ranges: []metadata.DescriptorRangeDesc{
				{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 0, Count: 3},
			}},
		},
	})
	if err != nil {
		return err
	}
	s.tonemapLayout, err = pipeline.NewBindingLayout(metadata.BindingLayoutDesc{
		Name: "tonemap",
		Parameters: []metadata.RootParameterDesc{
			{Kind: metadata.RootParameterDescriptorTable, Visibility: metadata.ShaderStagePixel, Ranges: []metadata.DescriptorRangeDesc{
				{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 0, Count: 1},
			}},
		},
	})
	return err
}

func (g *TestGame) createPipelines() error {
	s := g.state()
	device := g.Renderer.Device()

	vs, err := g.loadShader("fullscreen.vert")
	if err != nil {
		return err
	}
	shaders := map[string][]byte{}
	for _, name := range []string{"gbuffer.frag", "lighting.frag", "tonemap.frag"} {
		if shaders[name], err = g.loadShader(name); err != nil {
			return err
		}
	}

	gbuffer := &pipeline.StateConfig{
		Name:                "gbuffer",
		Layout:              s.gbufferLayout,
		VertexShader:        vs,
		PixelShader:         shaders["gbuffer.frag"],
		RenderTargetFormats: []metadata.Format{metadata.FormatRGBA8Unorm, metadata.FormatRGBA16Float},
		DepthFormat:         metadata.FormatD32Float,
		CullMode:            metadata.FaceCullModeBack,
		DepthTest:           true,
		DepthWrite:          true,
	}
	if s.gbuffer, err = gbuffer.Build(device); err != nil {
		return err
	}
	lighting := &pipeline.StateConfig{
		Name:                "lighting",
		Layout:              s.lightingLayout,
		VertexShader:        vs,
		PixelShader:         shaders["lighting.frag"],
		RenderTargetFormats: []metadata.Format{metadata.FormatRGBA16Float},
		CullMode:            metadata.FaceCullModeNone,
	}
	if s.lighting, err = lighting.Build(device); err != nil {
		return err
	}
	tonemap := &pipeline.StateConfig{
		Name:                "tonemap",
		Layout:              s.tonemapLayout,
		VertexShader:        vs,
		PixelShader:         shaders["tonemap.frag"],
		RenderTargetFormats: []metadata.Format{metadata.FormatBGRA8Unorm},
		CullMode:            metadata.FaceCullModeNone,
	}
	s.tonemap, err = tonemap.Build(device)
	return err
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.time += deltaTime
	return nil
}

// ensureBackbuffer recreates the presentation target after a resize. The
// old one goes through the deferred release queue.
func (g *TestGame) ensureBackbuffer() (metadata.GPUResource, error) {
	s := g.state()
	s.mu.Lock()
	width, height := s.width, s.height
	s.mu.Unlock()

	if s.backbuffer != nil {
		if s.bbWidth == width && s.bbHeight == height {
			return s.backbuffer, nil
		}
		g.Renderer.RetireResource(s.lastFence, s.backbuffer)
		s.backbuffer = nil
	}

	bb, err := g.Renderer.CreateRenderTarget("backbuffer", metadata.RenderTargetDesc{
		Width:       width,
		Height:      height,
		Format:      metadata.FormatBGRA8Unorm,
		SampleCount: 1,
	})
	if err != nil {
		return nil, err
	}
	s.backbuffer = bb
	s.bbWidth, s.bbHeight = width, height
	return bb, nil
}

// view creates a descriptor for a transient resource that lives until the
// frame's fence completes.
func (g *TestGame) view(resource metadata.GPUResource) (metadata.DescriptorHandle, error) {
	alloc, err := g.Renderer.CreateView(metadata.DescriptorView{Type: metadata.DescriptorTypeShaderResource, Resource: resource})
	if err != nil {
		return metadata.DescriptorHandle{}, err
	}
	s := g.state()
	s.frameViews = append(s.frameViews, alloc)
	return alloc.Handle(0), nil
}

func (g *TestGame) Render(gr *graph.Graph, deltaTime float64) error {
	s := g.state()
	bb, err := g.ensureBackbuffer()
	if err != nil {
		return err
	}
	s.mu.Lock()
	width, height := s.width, s.height
	s.mu.Unlock()

	backbuffer := gr.Import("backbuffer", bb)

	var albedo, normal, depth graph.ResourceHandle
	gr.AddPass("gbuffer", func(b *graph.PassBuilder) graph.PassFunc {
		albedo = b.Write(b.Create("albedo", graph.RenderTargetResource{Desc: metadata.RenderTargetDesc{
			Width: width, Height: height, Format: metadata.FormatRGBA8Unorm, SampleCount: 1,
		}}), metadata.ResourceStateRenderTarget)
		normal = b.Write(b.Create("normal", graph.RenderTargetResource{Desc: metadata.RenderTargetDesc{
			Width: width, Height: height, Format: metadata.FormatRGBA16Float, SampleCount: 1,
		}}), metadata.ResourceStateRenderTarget)
		depth = b.Write(b.Create("depth", graph.DepthTargetResource{Desc: metadata.DepthTargetDesc{
			Width: width, Height: height, Format: metadata.FormatD32Float, ClearDepth: 1,
		}}), metadata.ResourceStateDepthWrite)

		return func(res *graph.Resolver, cmd *command.Context) error {
			cmd.BeginRenderPass([]metadata.GPUResource{res.Resource(albedo), res.Resource(normal)}, res.Resource(depth))
			defer cmd.EndRenderPass()

			cmd.SetPipelineState(s.gbuffer)
			if err := cmd.SetDynamicConstantBufferView(0, cameraConstants(s.time, width, height)); err != nil {
				return err
			}
			cmd.BindResource(metadata.DescriptorTypeShaderResource, 0, s.albedoMapView.Handle(0))
			cmd.BindResource(metadata.DescriptorTypeShaderResource, 1, s.triangleView.Handle(0))
			cmd.BindResource(metadata.DescriptorTypeSampler, 0, s.linearSampler.Handle(0))
			return cmd.Draw(3, 1, 0, 0)
		}
	})

	var hdr graph.ResourceHandle
	gr.AddPass("lighting", func(b *graph.PassBuilder) graph.PassFunc {
		b.Read(albedo, metadata.ResourceStatePixelShaderResource)
		b.Read(normal, metadata.ResourceStatePixelShaderResource)
		b.Read(depth, metadata.ResourceStateDepthRead|metadata.ResourceStatePixelShaderResource)
		hdr = b.Write(b.Create("hdr", graph.RenderTargetResource{Desc: metadata.RenderTargetDesc{
			Width: width, Height: height, Format: metadata.FormatRGBA16Float, SampleCount: 1,
		}}), metadata.ResourceStateRenderTarget)

		return func(res *graph.Resolver, cmd *command.Context) error {
			cmd.BeginRenderPass([]metadata.GPUResource{res.Resource(hdr)}, nil)
			defer cmd.EndRenderPass()

			cmd.SetPipelineState(s.lighting)
			if err := cmd.SetDynamicConstantBufferView(0, cameraConstants(s.time, width, height)); err != nil {
				return err
			}
			for slot, h := range []graph.ResourceHandle{albedo, normal, depth} {
				handle, err := g.view(res.Resource(h))
				if err != nil {
					return err
				}
				cmd.BindResource(metadata.DescriptorTypeShaderResource, uint32(slot), handle)
			}
			return cmd.Draw(3, 1, 0, 0)
		}
	})

	// Nothing consumes the overlay, so the graph culls it and never creates
	// its target.
	gr.AddPass("debug-overlay", func(b *graph.PassBuilder) graph.PassFunc {
		b.Read(hdr, metadata.ResourceStatePixelShaderResource)
		overlay := b.Write(b.Create("", graph.RenderTargetResource{Desc: metadata.RenderTargetDesc{
			Width: width, Height: height, Format: metadata.FormatRGBA8Unorm, SampleCount: 1,
		}}), metadata.ResourceStateRenderTarget)
		return func(res *graph.Resolver, cmd *command.Context) error {
			cmd.BeginRenderPass([]metadata.GPUResource{res.Resource(overlay)}, nil)
			cmd.EndRenderPass()
			return nil
		}
	})

	gr.AddPass("present", func(b *graph.PassBuilder) graph.PassFunc {
		b.Read(hdr, metadata.ResourceStatePixelShaderResource)
		// writing an imported resource keeps the pass alive
		out := b.Write(backbuffer, metadata.ResourceStateRenderTarget)

		return func(res *graph.Resolver, cmd *command.Context) error {
			cmd.BeginRenderPass([]metadata.GPUResource{res.Resource(out)}, nil)
			defer cmd.EndRenderPass()

			cmd.SetPipelineState(s.tonemap)
			handle, err := g.view(res.Resource(hdr))
			if err != nil {
				return err
			}
			cmd.BindResource(metadata.DescriptorTypeShaderResource, 0, handle)
			return cmd.Draw(3, 1, 0, 0)
		}
	})

	return nil
}

func (g *TestGame) EndFrame(fence metadata.FenceValue) error {
	s := g.state()
	for _, v := range s.frameViews {
		v.Release(fence)
	}
	s.frameViews = s.frameViews[:0]
	s.lastFence = fence

	if !s.loggedFirstFrame {
		s.loggedFirstFrame = true
		m := g.Renderer.Metrics()
		core.LogInfo("first frame submitted as %s (%d submissions)", fence, m.Submissions.Load())
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	r := g.Renderer
	for _, v := range s.frameViews {
		v.Release(s.lastFence)
	}
	s.frameViews = nil
	for _, a := range []*descriptor.Allocation{s.albedoMapView, s.triangleView, s.linearSampler} {
		if a != nil {
			a.Release(s.lastFence)
		}
	}
	for _, res := range []metadata.GPUResource{s.backbuffer, s.albedoMap, s.triangle} {
		if res != nil {
			r.RetireResource(s.lastFence, res)
		}
	}
	for _, pso := range []*pipeline.State{s.gbuffer, s.lighting, s.tonemap} {
		if pso != nil {
			pso.Destroy()
		}
	}
	return nil
}

// cameraConstants packs the view-projection matrix of a camera orbiting the
// origin, followed by the elapsed time.
func cameraConstants(t float64, width, height uint32) []byte {
	angle := float32(t) * 0.5
	eye := emath.NewVec3(5*float32(math.Sin(float64(angle))), 2, 5*float32(math.Cos(float64(angle))))
	view := emath.NewMat4LookAt(eye, emath.Vec3{}, emath.NewVec3Up())
	proj := emath.NewMat4Perspective(emath.DegToRad(60), float32(width)/float32(height), 0.1, 100)

	buf := proj.Mul(view).AppendBytes(make([]byte, 0, 80))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(t)))
	return append(buf, make([]byte, 12)...)
}
