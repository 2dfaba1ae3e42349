package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanRenderpass struct {
	Handle      vk.RenderPass
	W, H        uint32
	ClearValues []vk.ClearValue
}

type attachmentConfig struct {
	format  vk.Format
	samples vk.SampleCountFlagBits
	clear   vk.ClearValue
	// layout the image is in before the pass, and the one it is left in
	layout vk.ImageLayout
	final  vk.ImageLayout
}

// RenderpassCreate builds a single-subpass render pass. The attachments keep
// the layout the barrier put them in, so contents are loaded rather than
// cleared unless the image was never written.
func RenderpassCreate(context *VulkanContext, w, h uint32, colour []attachmentConfig, depth *attachmentConfig) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{W: w, H: h}

	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, 0, len(colour)+1)
	colourReferences := make([]vk.AttachmentReference, 0, len(colour))
	for i, c := range colour {
		loadOp := vk.AttachmentLoadOpLoad
		if c.layout == vk.ImageLayoutUndefined {
			loadOp = vk.AttachmentLoadOpClear
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         c.format,
			Samples:        c.samples,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  c.layout,
			FinalLayout:    c.final,
		})
		colourReferences = append(colourReferences, vk.AttachmentReference{
			Attachment: uint32(i), // Attachment description array index
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		outRenderpass.ClearValues = append(outRenderpass.ClearValues, c.clear)
	}
	subpass.ColorAttachmentCount = uint32(len(colourReferences))
	subpass.PColorAttachments = colourReferences

	// Depth attachment, if there is one
	if depth != nil {
		loadOp := vk.AttachmentLoadOpLoad
		if depth.layout == vk.ImageLayoutUndefined {
			loadOp = vk.AttachmentLoadOpClear
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         depth.format,
			Samples:        depth.samples,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  depth.layout,
			FinalLayout:    depth.final,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(colour)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		outRenderpass.ClearValues = append(outRenderpass.ClearValues, depth.clear)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); res != vk.Success {
		return nil, vulkanError("vkCreateRenderPass", res)
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *CommandList, frameBuffer vk.Framebuffer) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{
				Width:  vr.W,
				Height: vr.H,
			},
		},
		ClearValueCount: uint32(len(vr.ClearValues)),
		PClearValues:    vr.ClearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *CommandList) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
}
