package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

const (
	// Vertex buffer binding of the unit cube corners.
	cubeBinding = 0
	// Vertex buffer binding of the per instance data.
	instanceBinding = 1
	// One column major mat4, the view projection.
	pushConstantSize = 64
)

// VulkanPipeline holds a graphics pipeline and its layout.
type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	// The render pass the pipeline is compatible with.
	RenderPass *VulkanRenderPass

	context *VulkanContext
}

type VulkanPipelineConfig struct {
	RenderPass           *VulkanRenderPass
	Stages               []vk.PipelineShaderStageCreateInfo
	DescriptorSetLayouts []vk.DescriptorSetLayout
	CullMode             vk.CullModeFlagBits
	IsWireframe          bool
}

// voxelVertexInput describes the cube corners at binding 0, advanced per
// vertex, and metadata.VoxelInstance at binding 1, advanced per instance.
func voxelVertexInput() ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	bindings := []vk.VertexInputBindingDescription{
		{Binding: cubeBinding, Stride: cubeVertexStride, InputRate: vk.VertexInputRateVertex},
		{Binding: instanceBinding, Stride: metadata.InstanceStride, InputRate: vk.VertexInputRateInstance},
	}
	attributes := []vk.VertexInputAttributeDescription{
		// inCorner
		{Location: 0, Binding: cubeBinding, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		// inPosition
		{Location: 1, Binding: instanceBinding, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		// inColour
		{Location: 2, Binding: instanceBinding, Format: vk.FormatR32g32b32a32Sfloat, Offset: 12},
	}
	return bindings, attributes
}

func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	if config.RenderPass == nil || config.RenderPass.Handle == nil {
		return nil, errors.AssertionFailedf("graphics pipeline needs a render pass")
	}
	driver := context.Driver
	device := context.LogicalDevice()

	// Viewport and scissor are dynamic, only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(config.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if config.IsWireframe {
		rasterizer.PolygonMode = vk.PolygonModeLine
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.True,
		DepthWriteEnable:      vk.True,
		DepthCompareOp:        vk.CompareOpLess,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
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
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindings, attributes := voxelVertexInput()
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(config.DescriptorSetLayouts)),
		PSetLayouts:            config.DescriptorSetLayouts,
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Offset:     0,
			Size:       pushConstantSize,
		}},
	}
	layout, res := driver.CreatePipelineLayout(device, &layoutInfo)
	if res != vk.Success {
		return nil, vkError(res, "vkCreatePipelineLayout")
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		PTessellationState:  nil,
		Layout:              layout,
		RenderPass:          config.RenderPass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	handle, res := driver.CreateGraphicsPipeline(device, &pipelineInfo)
	if res != vk.Success {
		driver.DestroyPipelineLayout(device, layout)
		return nil, vkError(res, "vkCreateGraphicsPipelines")
	}
	context.retain()
	core.LogDebug("Graphics pipeline created.")
	return &VulkanPipeline{
		Handle:         handle,
		PipelineLayout: layout,
		RenderPass:     config.RenderPass,
		context:        context,
	}, nil
}

func (pipeline *VulkanPipeline) Destroy() {
	if pipeline.Handle == nil && pipeline.PipelineLayout == nil {
		return
	}
	driver := pipeline.context.Driver
	device := pipeline.context.LogicalDevice()
	if pipeline.Handle != nil {
		driver.DestroyPipeline(device, pipeline.Handle)
		pipeline.Handle = nil
	}
	if pipeline.PipelineLayout != nil {
		driver.DestroyPipelineLayout(device, pipeline.PipelineLayout)
		pipeline.PipelineLayout = nil
	}
	pipeline.RenderPass = nil
	pipeline.context.release()
}

func (pipeline *VulkanPipeline) Bind(cb *VulkanCommandBuffer) {
	cb.driver.CmdBindPipeline(cb.Handle, pipeline.Handle)
}

// PushViewProjection hands the camera matrix to the vertex stage.
func (pipeline *VulkanPipeline) PushViewProjection(cb *VulkanCommandBuffer, data []byte) error {
	if len(data) != pushConstantSize {
		return errors.AssertionFailedf("view projection is %d bytes, want %d", len(data), pushConstantSize)
	}
	cb.driver.CmdPushConstants(cb.Handle, pipeline.PipelineLayout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, data)
	return nil
}

func (pipeline *VulkanPipeline) BindDescriptorSet(cb *VulkanCommandBuffer, set vk.DescriptorSet) {
	cb.driver.CmdBindDescriptorSets(cb.Handle, pipeline.PipelineLayout, []vk.DescriptorSet{set})
}
