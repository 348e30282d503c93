package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	RenderPass  *VulkanRenderPass
	Width       uint32
	Height      uint32
}

func FramebufferCreate(context *VulkanContext, renderPass *VulkanRenderPass, width, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	fb := &VulkanFramebuffer{
		Attachments: append([]vk.ImageView(nil), attachments...),
		RenderPass:  renderPass,
		Width:       width,
		Height:      height,
	}
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass.Handle,
		AttachmentCount: uint32(len(fb.Attachments)),
		PAttachments:    fb.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	handle, res := context.Driver.CreateFramebuffer(context.LogicalDevice(), &createInfo)
	if res != vk.Success {
		return nil, vkError(res, "creating framebuffer %dx%d", width, height)
	}
	fb.Handle = handle
	return fb, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != nil {
		context.Driver.DestroyFramebuffer(context.LogicalDevice(), vfb.Handle)
	}
	vfb.Handle = nil
	vfb.Attachments = nil
	vfb.RenderPass = nil
}
