package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const MaxRenderTargets = 8

// StateConfig accumulates everything needed for a pipeline state object.
// Nothing is checked until Build.
type StateConfig struct {
	Name    string
	Layout  *BindingLayout
	Compute bool

	VertexShader  []byte
	PixelShader   []byte
	ComputeShader []byte

	RenderTargetFormats []metadata.Format
	DepthFormat         metadata.Format
	CullMode            metadata.FaceCullMode
	DepthTest           bool
	DepthWrite          bool
	SampleCount         uint32
}

func (c *StateConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPipeline)
	}
	if c.Layout == nil {
		return fmt.Errorf("%w: %s has no binding layout", ErrInvalidPipeline, c.Name)
	}

	if c.Compute {
		if len(c.ComputeShader) == 0 {
			return fmt.Errorf("%w: compute pipeline %s has no compute shader", ErrInvalidPipeline, c.Name)
		}
		if len(c.VertexShader) != 0 || len(c.PixelShader) != 0 || len(c.RenderTargetFormats) != 0 {
			return fmt.Errorf("%w: compute pipeline %s declares graphics state", ErrInvalidPipeline, c.Name)
		}
		return nil
	}

	if len(c.VertexShader) == 0 {
		return fmt.Errorf("%w: graphics pipeline %s has no vertex shader", ErrInvalidPipeline, c.Name)
	}
	if len(c.ComputeShader) != 0 {
		return fmt.Errorf("%w: graphics pipeline %s declares a compute shader", ErrInvalidPipeline, c.Name)
	}
	if len(c.RenderTargetFormats) > MaxRenderTargets {
		return fmt.Errorf("%w: %s has %d render targets, max is %d", ErrInvalidPipeline, c.Name, len(c.RenderTargetFormats), MaxRenderTargets)
	}
	for i, f := range c.RenderTargetFormats {
		if f == metadata.FormatUnknown || f.IsDepth() {
			return fmt.Errorf("%w: %s render target %d has an invalid colour format", ErrInvalidPipeline, c.Name, i)
		}
	}
	if c.DepthFormat != metadata.FormatUnknown && !c.DepthFormat.IsDepth() {
		return fmt.Errorf("%w: %s depth format is not a depth format", ErrInvalidPipeline, c.Name)
	}
	if (c.DepthTest || c.DepthWrite) && c.DepthFormat == metadata.FormatUnknown {
		return fmt.Errorf("%w: %s enables depth without a depth format", ErrInvalidPipeline, c.Name)
	}
	if len(c.RenderTargetFormats) == 0 && c.DepthFormat == metadata.FormatUnknown {
		return fmt.Errorf("%w: %s writes no attachment", ErrInvalidPipeline, c.Name)
	}
	return nil
}

// Build validates the config once and asks the device for the native object.
func (c *StateConfig) Build(device metadata.Device) (*State, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	desc := &metadata.PipelineStateDesc{
		Name:                c.Name,
		Compute:             c.Compute,
		Layout:              c.Layout.Desc(),
		RenderTargetFormats: append([]metadata.Format(nil), c.RenderTargetFormats...),
		DepthFormat:         c.DepthFormat,
		CullMode:            c.CullMode,
		DepthTest:           c.DepthTest,
		DepthWrite:          c.DepthWrite,
		SampleCount:         c.SampleCount,
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	if c.Compute {
		desc.Shaders = []metadata.ShaderBytecode{{Stage: metadata.ShaderStageCompute, Code: c.ComputeShader}}
	} else {
		desc.Shaders = []metadata.ShaderBytecode{{Stage: metadata.ShaderStageVertex, Code: c.VertexShader}}
		if len(c.PixelShader) > 0 {
			desc.Shaders = append(desc.Shaders, metadata.ShaderBytecode{Stage: metadata.ShaderStagePixel, Code: c.PixelShader})
		}
	}

	native, err := device.CreatePipelineState(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline state %s: %w", c.Name, err)
	}
	return &State{
		name:    c.Name,
		layout:  c.Layout,
		compute: c.Compute,
		native:  native,
	}, nil
}

// State is a built pipeline together with the layout the binder parses.
type State struct {
	name    string
	layout  *BindingLayout
	compute bool
	native  metadata.PipelineState
}

func (s *State) Name() string                    { return s.name }
func (s *State) Layout() *BindingLayout          { return s.layout }
func (s *State) IsCompute() bool                 { return s.compute }
func (s *State) Native() metadata.PipelineState { return s.native }

func (s *State) Destroy() {
	if s.native != nil {
		s.native.Destroy()
		s.native = nil
	}
}
