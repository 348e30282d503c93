package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// Stages the acquire semaphore of a frame is waited on. The render pass
// dependency below must start in one of them, otherwise the implicit layout
// transition of the swapchain image can run before the image is acquired.
const frameWaitStage = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)

// VulkanRenderPass draws into one swapchain image and a depth buffer. Both
// are cleared on load, the colour ends in PRESENT_SRC.
type VulkanRenderPass struct {
	Handle      vk.RenderPass
	ColorFormat vk.Format
	DepthFormat vk.Format
	Depth       float32
	Stencil     uint32

	context *VulkanContext
}

// renderPassDependency orders the first attachment writes after the previous
// frame's writes to the same attachments.
func renderPassDependency() vk.SubpassDependency {
	return vk.SubpassDependency{
		SrcSubpass:      vk.SubpassExternal,
		DstSubpass:      0,
		SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageLateFragmentTestsBit),
		DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask:   vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
		DstAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
		DependencyFlags: 0,
	}
}

func RenderPassCreate(context *VulkanContext, colorFormat, depthFormat vk.Format) (*VulkanRenderPass, error) {
	if depthFormat == vk.FormatUndefined {
		return nil, errors.AssertionFailedf("render pass needs a depth format")
	}
	attachments := []vk.AttachmentDescription{
		{
			Format:         colorFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			// Whatever was presented last is overwritten by the clear.
			InitialLayout: vk.ImageLayoutUndefined,
			FinalLayout:   vk.ImageLayoutPresentSrc,
		},
		{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}
	depthReference := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
		PDepthStencilAttachment: &depthReference,
	}
	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{renderPassDependency()},
	}
	handle, res := context.Driver.CreateRenderPass(context.LogicalDevice(), &createInfo)
	if res != vk.Success {
		return nil, vkError(res, "creating render pass")
	}
	context.retain()
	return &VulkanRenderPass{
		Handle:      handle,
		ColorFormat: colorFormat,
		DepthFormat: depthFormat,
		Depth:       1.0,
		Stencil:     0,
		context:     context,
	}, nil
}

func (vr *VulkanRenderPass) Destroy() {
	if vr.Handle == nil {
		return
	}
	vr.context.Driver.DestroyRenderPass(vr.context.LogicalDevice(), vr.Handle)
	vr.Handle = nil
	vr.context.release()
}

// Begin starts the pass over the whole framebuffer, clearing the colour
// attachment to color and depth to the far plane.
func (vr *VulkanRenderPass) Begin(cb *VulkanCommandBuffer, framebuffer *VulkanFramebuffer, color [4]float32) error {
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.AssertionFailedf("render pass begun in state %s", cb.State)
	}
	if framebuffer.RenderPass != vr {
		return errors.AssertionFailedf("framebuffer was built for another render pass")
	}
	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor(color[:])
	clearValues[1].SetDepthStencil(vr.Depth, vr.Stencil)

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: framebuffer.Width, Height: framebuffer.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	cb.driver.CmdBeginRenderPass(cb.Handle, &beginInfo)
	cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return nil
}

func (vr *VulkanRenderPass) End(cb *VulkanCommandBuffer) error {
	if cb.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return errors.AssertionFailedf("render pass ended in state %s", cb.State)
	}
	cb.driver.CmdEndRenderPass(cb.Handle)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}
