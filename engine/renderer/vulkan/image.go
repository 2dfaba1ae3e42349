package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format vk.Format
	Aspect vk.ImageAspectFlags
}

type imageConfig struct {
	width, height uint32
	mipLevels     uint32
	layers        uint32
	format        vk.Format
	usage         vk.ImageUsageFlagBits
	aspect        vk.ImageAspectFlagBits
	samples       vk.SampleCountFlagBits
	cube          bool
}

func ImageCreate(context *VulkanContext, cfg imageConfig) (*VulkanImage, error) {
	if cfg.mipLevels == 0 {
		cfg.mipLevels = 1
	}
	if cfg.layers == 0 {
		cfg.layers = 1
	}
	img := &VulkanImage{
		Width:  cfg.width,
		Height: cfg.height,
		Format: cfg.format,
		Aspect: vk.ImageAspectFlags(cfg.aspect),
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    cfg.format,
		Extent: vk.Extent3D{
			Width:  cfg.width,
			Height: cfg.height,
			Depth:  1,
		},
		MipLevels:     cfg.mipLevels,
		ArrayLayers:   cfg.layers,
		Samples:       cfg.samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(cfg.usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if cfg.cube {
		imageCreateInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	var image vk.Image
	if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &image); res != vk.Success {
		return nil, vulkanError("vkCreateImage", res)
	}
	img.Handle = image

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image, &memReqs)
	memReqs.Deref()

	memoryType, err := context.FindMemoryIndex(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy(context)
		return nil, err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory); res != vk.Success {
		img.Destroy(context)
		return nil, vulkanError("vkAllocateMemory", res)
	}
	img.Memory = memory
	if res := vk.BindImageMemory(context.Device.LogicalDevice, image, memory, 0); res != vk.Success {
		img.Destroy(context)
		return nil, vulkanError("vkBindImageMemory", res)
	}

	viewType := vk.ImageViewType2d
	if cfg.cube {
		viewType = vk.ImageViewTypeCube
	}
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   cfg.format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(cfg.aspect),
			LevelCount: cfg.mipLevels,
			LayerCount: cfg.layers,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &view); res != vk.Success {
		img.Destroy(context)
		return nil, vulkanError("vkCreateImageView", res)
	}
	img.View = view
	return img, nil
}

func (img *VulkanImage) Destroy(context *VulkanContext) {
	if img.View != nil {
		vk.DestroyImageView(context.Device.LogicalDevice, img.View, context.Allocator)
		img.View = nil
	}
	if img.Handle != nil {
		vk.DestroyImage(context.Device.LogicalDevice, img.Handle, context.Allocator)
		img.Handle = nil
	}
	if img.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, img.Memory, context.Allocator)
		img.Memory = nil
	}
}

type textureKind uint8

const (
	kindTexture textureKind = iota
	kindRenderTarget
	kindDepthTarget
)

// Texture backs every image-based GPUResource. The layout the image is in
// follows the tracked usage state; initialized records whether the contents
// must be preserved on the next transition.
type Texture struct {
	metadata.StateTracker

	device      *Device
	name        string
	kind        textureKind
	image       *VulkanImage
	clear       vk.ClearValue
	samples     vk.SampleCountFlagBits
	initialized bool
	// the contents are undefined and the next render pass clears them
	needsClear bool
}

func (t *Texture) Name() string {
	return t.name
}

func (t *Texture) Image() *VulkanImage {
	return t.image
}

func (t *Texture) attachment() attachmentConfig {
	layout := imageLayout(t.UsageState(), t.initialized)
	if t.needsClear {
		layout = vk.ImageLayoutUndefined
		t.needsClear = false
	}
	return attachmentConfig{
		format:  t.image.Format,
		samples: t.samples,
		clear:   t.clear,
		layout:  layout,
		final:   imageLayout(t.UsageState(), true),
	}
}

func (t *Texture) Destroy() {
	if t.image != nil {
		t.image.Destroy(t.device.context)
		t.image = nil
	}
}

func (d *Device) CreateTexture(name string, desc metadata.TextureDesc) (metadata.GPUResource, error) {
	usage := vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit
	if desc.UnorderedAccess {
		usage |= vk.ImageUsageStorageBit
	}
	layers := uint32(1)
	if desc.TextureType == metadata.TextureTypeCube {
		layers = 6
	}
	img, err := ImageCreate(d.context, imageConfig{
		width:     desc.Width,
		height:    desc.Height,
		mipLevels: desc.MipLevels,
		layers:    layers,
		format:    vulkanFormat(desc.Format),
		usage:     usage,
		aspect:    vk.ImageAspectColorBit,
		samples:   vk.SampleCount1Bit,
		cube:      desc.TextureType == metadata.TextureTypeCube,
	})
	if err != nil {
		return nil, err
	}
	return &Texture{device: d, name: name, kind: kindTexture, image: img, samples: vk.SampleCount1Bit}, nil
}

func (d *Device) CreateRenderTarget(name string, desc metadata.RenderTargetDesc) (metadata.GPUResource, error) {
	samples := sampleCount(desc.SampleCount)
	img, err := ImageCreate(d.context, imageConfig{
		width:   desc.Width,
		height:  desc.Height,
		format:  vulkanFormat(desc.Format),
		usage:   vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit,
		aspect:  vk.ImageAspectColorBit,
		samples: samples,
	})
	if err != nil {
		return nil, err
	}
	return &Texture{
		device:  d,
		name:    name,
		kind:    kindRenderTarget,
		image:   img,
		clear:   vk.NewClearValue(desc.ClearColour[:]),
		samples: samples,
	}, nil
}

func (d *Device) CreateDepthTarget(name string, desc metadata.DepthTargetDesc) (metadata.GPUResource, error) {
	format := vulkanFormat(desc.Format)
	if format == vk.FormatUndefined {
		format = d.context.Device.DepthFormat
	}
	aspect := vk.ImageAspectDepthBit
	if format == vk.FormatD24UnormS8Uint || format == vk.FormatD32SfloatS8Uint {
		aspect |= vk.ImageAspectStencilBit
	}
	img, err := ImageCreate(d.context, imageConfig{
		width:   desc.Width,
		height:  desc.Height,
		format:  format,
		usage:   vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit,
		aspect:  aspect,
		samples: vk.SampleCount1Bit,
	})
	if err != nil {
		return nil, err
	}
	return &Texture{
		device:  d,
		name:    name,
		kind:    kindDepthTarget,
		image:   img,
		clear:   vk.NewClearDepthStencil(desc.ClearDepth, uint32(desc.ClearStencil)),
		samples: vk.SampleCount1Bit,
	}, nil
}
