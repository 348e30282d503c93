package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in render pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED:
		return "not allocated"
	}
	return "unknown"
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	driver Driver
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isSimultaneousUse bool) error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return errors.AssertionFailedf("command buffer begin in state %s", v.State)
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if res := v.driver.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return vkError(res, "vkBeginCommandBuffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.AssertionFailedf("command buffer end in state %s", v.State)
	}
	if res := v.driver.EndCommandBuffer(v.Handle); res != vk.Success {
		return vkError(res, "vkEndCommandBuffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst vk.Buffer, size vk.DeviceSize) {
	v.driver.CmdCopyBuffer(v.Handle, src, dst, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	}})
}

// CopyBufferToImage copies tightly packed texels from src into the first mip
// of dst, which must be in TRANSFER_DST layout.
func (v *VulkanCommandBuffer) CopyBufferToImage(src vk.Buffer, dst vk.Image, width, height uint32) {
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	v.driver.CmdCopyBufferToImage(v.Handle, src, dst, vk.ImageLayoutTransferDstOptimal, []vk.BufferImageCopy{region})
}

// TransitionImageLayout records the barrier for a supported layout change.
func (v *VulkanCommandBuffer) TransitionImageLayout(image vk.Image, from, to vk.ImageLayout) error {
	barrier, masks, err := imageBarrier(image, from, to)
	if err != nil {
		return err
	}
	v.driver.CmdPipelineBarrier(v.Handle, masks.srcStage, masks.dstStage, nil, []vk.ImageMemoryBarrier{barrier})
	return nil
}

// BufferBarrier makes a finished transfer into buffer visible to use.
func (v *VulkanCommandBuffer) BufferBarrier(buffer vk.Buffer, use BufferUse) error {
	barrier, masks, err := bufferBarrier(buffer, use)
	if err != nil {
		return err
	}
	v.driver.CmdPipelineBarrier(v.Handle, masks.srcStage, masks.dstStage, []vk.BufferMemoryBarrier{barrier}, nil)
	return nil
}

// SetViewport covers the whole extent with both the viewport and the scissor.
func (v *VulkanCommandBuffer) SetViewport(extent vk.Extent2D) {
	v.driver.CmdSetViewport(v.Handle, vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	})
	v.driver.CmdSetScissor(v.Handle, vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: extent,
	})
}

func (v *VulkanCommandBuffer) BindVertexBuffers(firstBinding uint32, buffers ...vk.Buffer) {
	offsets := make([]vk.DeviceSize, len(buffers))
	v.driver.CmdBindVertexBuffers(v.Handle, firstBinding, buffers, offsets)
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buffer vk.Buffer) {
	v.driver.CmdBindIndexBuffer(v.Handle, buffer, 0, vk.IndexTypeUint16)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount uint32) error {
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return errors.AssertionFailedf("draw recorded outside a render pass (state %s)", v.State)
	}
	v.driver.CmdDrawIndexed(v.Handle, indexCount, instanceCount, 0, 0, 0)
	return nil
}
