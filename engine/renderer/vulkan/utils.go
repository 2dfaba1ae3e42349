package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var resultNames = map[vk.Result]string{
	vk.Success:                   "VK_SUCCESS",
	vk.NotReady:                  "VK_NOT_READY",
	vk.Timeout:                   "VK_TIMEOUT",
	vk.Incomplete:                "VK_INCOMPLETE",
	vk.ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:      "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:   "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:       "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorOutOfPoolMemory:      "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorUnknown:              "VK_ERROR_UNKNOWN",
}

func VulkanResultString(result vk.Result) string {
	if s, ok := resultNames[result]; ok {
		return s
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

// vulkanError turns a failed result into an error. A lost device wraps
// core.ErrDeviceRemoved.
func vulkanError(op string, result vk.Result) error {
	if result == vk.Success {
		return nil
	}
	if result == vk.ErrorDeviceLost {
		return fmt.Errorf("%s: %w", op, core.ErrDeviceRemoved)
	}
	err := fmt.Errorf("%s failed with %s", op, VulkanResultString(result))
	core.LogError(err.Error())
	return err
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	for i := range list {
		list[i] = VulkanSafeString(list[i])
	}
	return list
}

func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}

// bytesToWords reinterprets SPIR-V bytecode as the words Vulkan expects.
func bytesToWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

func vulkanFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.FormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.FormatR11G11B10Float:
		return vk.FormatB10g11r11UfloatPack32
	case metadata.FormatR32Float:
		return vk.FormatR32Sfloat
	case metadata.FormatD32Float:
		return vk.FormatD32Sfloat
	case metadata.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	default:
		return vk.FormatUndefined
	}
}

func sampleCount(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	default:
		return vk.SampleCount1Bit
	}
}

// imageLayout maps a resource state to the layout an image must be in.
// Common maps to General once the image holds data.
func imageLayout(state metadata.ResourceState, initialized bool) vk.ImageLayout {
	switch {
	case state == metadata.ResourceStateCommon:
		if !initialized {
			return vk.ImageLayoutUndefined
		}
		return vk.ImageLayoutGeneral
	case state&metadata.ResourceStateRenderTarget != 0:
		return vk.ImageLayoutColorAttachmentOptimal
	case state&metadata.ResourceStateDepthWrite != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case state&metadata.ResourceStateDepthRead != 0:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case state&metadata.ResourceStateUnorderedAccess != 0:
		return vk.ImageLayoutGeneral
	case state&metadata.ResourceStateCopyDest != 0:
		return vk.ImageLayoutTransferDstOptimal
	case state&metadata.ResourceStateCopySource != 0:
		return vk.ImageLayoutTransferSrcOptimal
	case state&metadata.ResourceStatePresent != 0:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutShaderReadOnlyOptimal
	}
}

func accessMask(state metadata.ResourceState) vk.AccessFlags {
	var mask vk.AccessFlagBits
	if state&metadata.ResourceStateVertexAndConstantBuffer != 0 {
		mask |= vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit
	}
	if state&metadata.ResourceStateIndexBuffer != 0 {
		mask |= vk.AccessIndexReadBit
	}
	if state&metadata.ResourceStateRenderTarget != 0 {
		mask |= vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit
	}
	if state&metadata.ResourceStateUnorderedAccess != 0 {
		mask |= vk.AccessShaderReadBit | vk.AccessShaderWriteBit
	}
	if state&metadata.ResourceStateDepthWrite != 0 {
		mask |= vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit
	}
	if state&metadata.ResourceStateDepthRead != 0 {
		mask |= vk.AccessDepthStencilAttachmentReadBit
	}
	if state&metadata.ResourceStateShaderResource != 0 {
		mask |= vk.AccessShaderReadBit
	}
	if state&metadata.ResourceStateCopyDest != 0 {
		mask |= vk.AccessTransferWriteBit
	}
	if state&metadata.ResourceStateCopySource != 0 {
		mask |= vk.AccessTransferReadBit
	}
	return vk.AccessFlags(mask)
}
