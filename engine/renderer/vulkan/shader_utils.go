package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func shaderStageFlag(stage metadata.ShaderStage) (vk.ShaderStageFlagBits, error) {
	switch stage {
	case metadata.ShaderStageVertex:
		return vk.ShaderStageVertexBit, nil
	case metadata.ShaderStagePixel:
		return vk.ShaderStageFragmentBit, nil
	case metadata.ShaderStageCompute:
		return vk.ShaderStageComputeBit, nil
	default:
		return 0, fmt.Errorf("unsupported shader stage %#x", uint8(stage))
	}
}

// NewShaderModule wraps already compiled SPIR-V.
func NewShaderModule(context *VulkanContext, bytecode metadata.ShaderBytecode) (*VulkanShaderStage, error) {
	if len(bytecode.Code) == 0 || len(bytecode.Code)%4 != 0 {
		return nil, fmt.Errorf("shader bytecode of %d bytes is not SPIR-V", len(bytecode.Code))
	}
	flag, err := shaderStageFlag(bytecode.Stage)
	if err != nil {
		return nil, err
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(bytecode.Code)),
		PCode:    bytesToWords(bytecode.Code),
	}

	stage := &VulkanShaderStage{}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &stage.Handle); res != vk.Success {
		return nil, vulkanError("vkCreateShaderModule", res)
	}

	// Shader stage info
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  flag,
		Module: stage.Handle,
		PName:  VulkanSafeString("main"),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}
