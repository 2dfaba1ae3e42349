package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/null"
)

func table(ranges ...metadata.DescriptorRangeDesc) metadata.RootParameterDesc {
	return metadata.RootParameterDesc{Kind: metadata.RootParameterDescriptorTable, Ranges: ranges}
}

func TestBindingLayoutSlots(t *testing.T) {
	layout, err := NewBindingLayout(metadata.BindingLayoutDesc{
		Name: "lighting",
		Parameters: []metadata.RootParameterDesc{
			{Kind: metadata.RootParameterConstantBufferView, Slot: 0},
			table(
				metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 0, Count: 3},
				metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeUnorderedAccess, BaseSlot: 0, Count: 1},
			),
			table(metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeSampler, BaseSlot: 2, Count: 2}),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(3), layout.NumParameters())
	assert.Equal(t, uint32(0b010), layout.DescriptorTableBitMap(metadata.DescriptorHeapTypeResource))
	assert.Equal(t, uint32(0b100), layout.DescriptorTableBitMap(metadata.DescriptorHeapTypeSampler))
	assert.Equal(t, uint32(4), layout.TableSize(1))
	assert.Equal(t, uint32(0), layout.TableSize(0))
	assert.Equal(t, uint32(0), layout.TableSize(MaxDescriptorTables))

	loc, ok := layout.Lookup(metadata.DescriptorTypeUnorderedAccess, 0)
	require.True(t, ok)
	assert.Equal(t, SlotLocation{Table: 1, Offset: 3}, loc)

	loc, ok = layout.Lookup(metadata.DescriptorTypeSampler, 3)
	require.True(t, ok)
	assert.Equal(t, SlotLocation{Table: 2, Offset: 1}, loc)

	_, ok = layout.Lookup(metadata.DescriptorTypeSampler, 0)
	assert.False(t, ok)

	slots := layout.Slots()
	require.Len(t, slots, 6)
	assert.Equal(t, uint32(1), slots[0].Table)
	assert.Equal(t, uint32(0), slots[0].Offset)
	assert.Equal(t, uint32(2), slots[5].Table)
}

func TestBindingLayoutRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		params []metadata.RootParameterDesc
	}{
		{"empty table", []metadata.RootParameterDesc{table()}},
		{"mixed heaps", []metadata.RootParameterDesc{table(
			metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeShaderResource, Count: 1},
			metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeSampler, Count: 1},
		)}},
		{"duplicate slot", []metadata.RootParameterDesc{
			table(metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 1, Count: 2}),
			table(metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeShaderResource, BaseSlot: 2, Count: 1}),
		}},
		{"oversized table", []metadata.RootParameterDesc{
			table(metadata.DescriptorRangeDesc{Type: metadata.DescriptorTypeShaderResource, Count: MaxDescriptorsPerTable + 1}),
		}},
		{"ranges on a constant buffer", []metadata.RootParameterDesc{{
			Kind:   metadata.RootParameterConstantBufferView,
			Ranges: []metadata.DescriptorRangeDesc{{Type: metadata.DescriptorTypeShaderResource, Count: 1}},
		}}},
		{"too many parameters", make([]metadata.RootParameterDesc, MaxDescriptorTables+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBindingLayout(metadata.BindingLayoutDesc{Name: tt.name, Parameters: tt.params})
			assert.ErrorIs(t, err, ErrInvalidLayout)
		})
	}
}

func testLayout(t *testing.T) *BindingLayout {
	t.Helper()
	layout, err := NewBindingLayout(metadata.BindingLayoutDesc{
		Name:       "pso",
		Parameters: []metadata.RootParameterDesc{{Kind: metadata.RootParameterConstantBufferView}},
	})
	require.NoError(t, err)
	return layout
}

func TestStateConfigValidate(t *testing.T) {
	layout := testLayout(t)
	rt := []metadata.Format{metadata.FormatRGBA8Unorm}

	tests := []struct {
		name string
		cfg  StateConfig
	}{
		{"no name", StateConfig{Layout: layout, VertexShader: []byte{1}, RenderTargetFormats: rt}},
		{"no layout", StateConfig{Name: "p", VertexShader: []byte{1}, RenderTargetFormats: rt}},
		{"no vertex shader", StateConfig{Name: "p", Layout: layout, RenderTargetFormats: rt}},
		{"compute shader on graphics", StateConfig{Name: "p", Layout: layout, VertexShader: []byte{1}, ComputeShader: []byte{1}, RenderTargetFormats: rt}},
		{"depth format as colour", StateConfig{Name: "p", Layout: layout, VertexShader: []byte{1}, RenderTargetFormats: []metadata.Format{metadata.FormatD32Float}}},
		{"colour format as depth", StateConfig{Name: "p", Layout: layout, VertexShader: []byte{1}, DepthFormat: metadata.FormatRGBA8Unorm}},
		{"depth test without depth", StateConfig{Name: "p", Layout: layout, VertexShader: []byte{1}, RenderTargetFormats: rt, DepthTest: true}},
		{"no attachments", StateConfig{Name: "p", Layout: layout, VertexShader: []byte{1}}},
		{"too many targets", StateConfig{Name: "p", Layout: layout, VertexShader: []byte{1}, RenderTargetFormats: make([]metadata.Format, MaxRenderTargets+1)}},
		{"compute without shader", StateConfig{Name: "p", Layout: layout, Compute: true}},
		{"compute with graphics state", StateConfig{Name: "p", Layout: layout, Compute: true, ComputeShader: []byte{1}, RenderTargetFormats: rt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), ErrInvalidPipeline)
		})
	}
}

func TestStateConfigBuild(t *testing.T) {
	device := null.NewDevice()
	layout := testLayout(t)

	cfg := StateConfig{
		Name:                "gbuffer",
		Layout:              layout,
		VertexShader:        []byte{1, 2},
		PixelShader:         []byte{3},
		RenderTargetFormats: []metadata.Format{metadata.FormatRGBA8Unorm, metadata.FormatRGBA16Float},
		DepthFormat:         metadata.FormatD32Float,
		DepthTest:           true,
		DepthWrite:          true,
	}
	state, err := cfg.Build(device)
	require.NoError(t, err)
	assert.Equal(t, "gbuffer", state.Name())
	assert.Same(t, layout, state.Layout())
	assert.False(t, state.IsCompute())

	desc := state.Native().(*null.PipelineState).Desc()
	assert.Equal(t, uint32(1), desc.SampleCount)
	require.Len(t, desc.Shaders, 2)
	assert.Equal(t, metadata.ShaderStagePixel, desc.Shaders[1].Stage)
	assert.Same(t, layout.Desc(), desc.Layout)

	// later edits of the config do not leak into the built state
	cfg.RenderTargetFormats[0] = metadata.FormatR32Float
	assert.Equal(t, metadata.FormatRGBA8Unorm, desc.RenderTargetFormats[0])

	state.Destroy()
	state.Destroy()
	assert.Equal(t, 1, device.Destroyed("pipeline"))

	compute := StateConfig{Name: "cull", Layout: layout, Compute: true, ComputeShader: []byte{9}}
	cs, err := compute.Build(device)
	require.NoError(t, err)
	assert.True(t, cs.IsCompute())
	assert.Equal(t, metadata.ShaderStageCompute, cs.Native().(*null.PipelineState).Desc().Shaders[0].Stage)
}
