package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	BindPoint      vk.PipelineBindPoint
}

type VulkanPipelineConfig struct {
	/** @brief A render pass compatible with the ones the pipeline is used in. */
	Renderpass *VulkanRenderpass
	/** @brief An array of descriptor set layouts. */
	DescriptorSetLayouts []vk.DescriptorSetLayout
	Stages               []vk.PipelineShaderStageCreateInfo
	/** @brief The face cull mode. */
	CullMode             metadata.FaceCullMode
	DepthTest            bool
	DepthWrite           bool
	ColorAttachmentCount uint32
	Samples              vk.SampleCountFlagBits
}

func createPipelineLayout(context *VulkanContext, setLayouts []vk.DescriptorSetLayout) (vk.PipelineLayout, error) {
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	var pPipelineLayout vk.PipelineLayout
	err := context.locks.SafeCall(PipelineManagement, func() error {
		return vulkanError("vkCreatePipelineLayout", vk.CreatePipelineLayout(
			context.Device.LogicalDevice,
			&pipelineLayoutCreateInfo,
			context.Allocator,
			&pPipelineLayout))
	})
	return pPipelineLayout, err
}

func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{BindPoint: vk.PipelineBindPointGraphics}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	switch config.CullMode {
	case metadata.FaceCullModeNone:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case metadata.FaceCullModeFront:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullModeFrontAndBack:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		fallthrough
	case metadata.FaceCullModeBack:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: config.Samples,
		MinSampleShading:     1.0,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if config.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, config.ColorAttachmentCount)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertices are pulled from buffers in the shader.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	layout, err := createPipelineLayout(context, config.DescriptorSetLayouts)
	if err != nil {
		return nil, err
	}
	outPipeline.PipelineLayout = layout

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.Renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return vulkanError("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline created!")
	return outPipeline, nil
}

func NewComputePipeline(context *VulkanContext, stage vk.PipelineShaderStageCreateInfo, setLayouts []vk.DescriptorSetLayout) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{BindPoint: vk.PipelineBindPointCompute}

	layout, err := createPipelineLayout(context, setLayouts)
	if err != nil {
		return nil, err
	}
	outPipeline.PipelineLayout = layout

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType:             vk.StructureTypeComputePipelineCreateInfo,
		Stage:             stage,
		Layout:            layout,
		BasePipelineIndex: -1,
	}
	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return vulkanError("vkCreateComputePipelines", vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Compute pipeline created!")
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	_ = context.locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
}

func (pipeline *VulkanPipeline) Bind(commandBuffer *CommandList) {
	vk.CmdBindPipeline(commandBuffer.Handle, pipeline.BindPoint, pipeline.Handle)
}

// PipelineState is the metadata.PipelineState of the vulkan device. Graphics
// pipelines own the render pass they were made compatible with.
type PipelineState struct {
	name       string
	device     *Device
	pipeline   *VulkanPipeline
	renderpass *VulkanRenderpass
}

func (p *PipelineState) Name() string {
	return p.name
}

func (p *PipelineState) Destroy() {
	if p.pipeline != nil {
		p.pipeline.Destroy(p.device.context)
		p.pipeline = nil
	}
	if p.renderpass != nil {
		p.renderpass.RenderpassDestroy(p.device.context)
		p.renderpass = nil
	}
}

func (d *Device) CreatePipelineState(desc *metadata.PipelineStateDesc) (metadata.PipelineState, error) {
	stages := make([]*VulkanShaderStage, 0, len(desc.Shaders))
	defer func() {
		// modules are no longer needed once the pipeline exists
		for _, s := range stages {
			s.Destroy(d.context)
		}
	}()
	infos := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Shaders))
	for _, bytecode := range desc.Shaders {
		stage, err := NewShaderModule(d.context, bytecode)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", desc.Name, err)
		}
		stages = append(stages, stage)
		infos = append(infos, stage.ShaderStageCreateInfo)
	}

	pso := &PipelineState{name: desc.Name, device: d}
	if desc.Compute {
		if len(infos) != 1 {
			return nil, fmt.Errorf("compute pipeline %s needs exactly one shader, got %d", desc.Name, len(infos))
		}
		pipeline, err := NewComputePipeline(d.context, infos[0], nil)
		if err != nil {
			return nil, err
		}
		pso.pipeline = pipeline
		return pso, nil
	}

	samples := sampleCount(desc.SampleCount)
	colour := make([]attachmentConfig, len(desc.RenderTargetFormats))
	for i, f := range desc.RenderTargetFormats {
		colour[i] = attachmentConfig{format: vulkanFormat(f), samples: samples, final: vk.ImageLayoutColorAttachmentOptimal}
	}
	var depth *attachmentConfig
	if desc.DepthFormat != metadata.FormatUnknown {
		depth = &attachmentConfig{format: vulkanFormat(desc.DepthFormat), samples: samples, final: vk.ImageLayoutDepthStencilAttachmentOptimal}
	}
	renderpass, err := RenderpassCreate(d.context, 1, 1, colour, depth)
	if err != nil {
		return nil, err
	}
	pso.renderpass = renderpass

	pipeline, err := NewGraphicsPipeline(d.context, &VulkanPipelineConfig{
		Renderpass:           renderpass,
		Stages:               infos,
		CullMode:             desc.CullMode,
		DepthTest:            desc.DepthTest,
		DepthWrite:           desc.DepthWrite,
		ColorAttachmentCount: uint32(len(colour)),
		Samples:              samples,
	})
	if err != nil {
		pso.Destroy()
		return nil, err
	}
	pso.pipeline = pipeline
	return pso, nil
}
