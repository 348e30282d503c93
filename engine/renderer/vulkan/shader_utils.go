package vulkan

import (
	vk "github.com/goki/vulkan"
)

// Every shader is compiled with this entry point.
const shaderEntryPoint = "main"

// shaderStage describes one programmable stage of a pipeline.
func shaderStage(module vk.ShaderModule, stage vk.ShaderStageFlagBits) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: module,
		PName:  VulkanSafeString(shaderEntryPoint),
	}
}
