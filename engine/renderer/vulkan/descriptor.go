package vulkan

import (
	vk "github.com/goki/vulkan"
)

// PaletteDescriptor owns the single combined image sampler the fragment
// shader looks cell colours up in, at set 0 binding 0.
type PaletteDescriptor struct {
	Layout  vk.DescriptorSetLayout
	Pool    vk.DescriptorPool
	Set     vk.DescriptorSet
	Sampler vk.Sampler

	context *VulkanContext
}

func NewPaletteDescriptor(context *VulkanContext) (_ *PaletteDescriptor, err error) {
	driver := context.Driver
	device := context.LogicalDevice()
	context.retain()
	pd := &PaletteDescriptor{context: context}
	defer func() {
		if err != nil {
			pd.Destroy()
		}
	}()

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings: []vk.DescriptorSetLayoutBinding{{
			Binding:            0,
			DescriptorType:     vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount:    1,
			StageFlags:         vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
			PImmutableSamplers: nil,
		}},
	}
	var res vk.Result
	if pd.Layout, res = driver.CreateDescriptorSetLayout(device, &layoutInfo); res != vk.Success {
		return nil, vkError(res, "creating the palette descriptor set layout")
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
		}},
	}
	if pd.Pool, res = driver.CreateDescriptorPool(device, &poolInfo); res != vk.Success {
		return nil, vkError(res, "creating the palette descriptor pool")
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pd.Pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{pd.Layout},
	}
	if pd.Set, res = driver.AllocateDescriptorSet(device, &allocInfo); res != vk.Success {
		return nil, vkError(res, "allocating the palette descriptor set")
	}

	// Linear between neighbouring states, clamped at both ends of the strip.
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		MipLodBias:              0.0,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0.0,
		MaxLod:                  0.0,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if pd.Sampler, res = driver.CreateSampler(device, &samplerInfo); res != vk.Success {
		return nil, vkError(res, "creating the palette sampler")
	}
	return pd, nil
}

// Write points the set at view, which must be in SHADER_READ_ONLY layout
// whenever a draw using the set executes.
func (pd *PaletteDescriptor) Write(view vk.ImageView) {
	pd.context.Driver.UpdateDescriptorSets(pd.context.LogicalDevice(), []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          pd.Set,
		DstBinding:      0,
		DstArrayElement: 0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     pd.Sampler,
			ImageView:   view,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}})
}

// Destroy frees the set together with its pool.
func (pd *PaletteDescriptor) Destroy() {
	if pd.context == nil {
		return
	}
	driver := pd.context.Driver
	device := pd.context.LogicalDevice()
	if pd.Sampler != nil {
		driver.DestroySampler(device, pd.Sampler)
		pd.Sampler = nil
	}
	if pd.Pool != nil {
		driver.DestroyDescriptorPool(device, pd.Pool)
		pd.Pool = nil
		pd.Set = nil
	}
	if pd.Layout != nil {
		driver.DestroyDescriptorSetLayout(device, pd.Layout)
		pd.Layout = nil
	}
	pd.context.release()
	pd.context = nil
}
