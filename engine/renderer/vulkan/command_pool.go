package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// CommandPool owns the command buffers recorded for one queue family. Frame
// slots each get their own transient pool and reset it as a whole.
type CommandPool struct {
	Handle vk.CommandPool
	Family uint32

	context *VulkanContext
	buffers []*VulkanCommandBuffer
}

func NewCommandPool(context *VulkanContext, family uint32, transient bool) (*CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
	}
	if transient {
		info.Flags = vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	} else {
		info.Flags = vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
	}
	handle, res := context.Driver.CreateCommandPool(context.LogicalDevice(), &info)
	if res != vk.Success {
		return nil, vkError(res, "creating command pool for family %d", family)
	}
	context.retain()
	return &CommandPool{
		Handle:  handle,
		Family:  family,
		context: context,
	}, nil
}

func (cp *CommandPool) Allocate(primary bool) (*VulkanCommandBuffer, error) {
	level := vk.CommandBufferLevelSecondary
	if primary {
		level = vk.CommandBufferLevelPrimary
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cp.Handle,
		CommandBufferCount: 1,
		Level:              level,
	}
	handles, res := cp.context.Driver.AllocateCommandBuffers(cp.context.LogicalDevice(), &info)
	if res != vk.Success {
		return nil, vkError(res, "allocating command buffer")
	}
	cb := &VulkanCommandBuffer{
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
		driver: cp.context.Driver,
	}
	cp.buffers = append(cp.buffers, cb)
	return cb, nil
}

// Reset returns every buffer of the pool to the ready state. None of them
// may still be executing.
func (cp *CommandPool) Reset() error {
	if res := cp.context.Driver.ResetCommandPool(cp.context.LogicalDevice(), cp.Handle); res != vk.Success {
		return vkError(res, "vkResetCommandPool")
	}
	for _, cb := range cp.buffers {
		cb.Reset()
	}
	return nil
}

func (cp *CommandPool) Free(cb *VulkanCommandBuffer) {
	if cb == nil || cb.Handle == nil {
		return
	}
	cp.context.Driver.FreeCommandBuffers(cp.context.LogicalDevice(), cp.Handle, []vk.CommandBuffer{cb.Handle})
	for i, b := range cp.buffers {
		if b == cb {
			cp.buffers = append(cp.buffers[:i], cp.buffers[i+1:]...)
			break
		}
	}
	cb.Handle = nil
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

// Destroy frees the pool together with all of its buffers.
func (cp *CommandPool) Destroy() {
	if cp.Handle == nil {
		return
	}
	cp.context.Driver.DestroyCommandPool(cp.context.LogicalDevice(), cp.Handle)
	for _, cb := range cp.buffers {
		cb.Handle = nil
		cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	}
	cp.buffers = nil
	cp.Handle = nil
	cp.context.release()
}

// BeginSingleTimeCommands allocates a primary buffer and begins it for one
// submission.
func (cp *CommandPool) BeginSingleTimeCommands() (*VulkanCommandBuffer, error) {
	cb, err := cp.Allocate(true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false); err != nil {
		cp.Free(cb)
		return nil, err
	}
	return cb, nil
}

// EndSingleTimeCommands ends cb, submits it to queue, waits for the queue to
// drain and frees the buffer.
func (cp *CommandPool) EndSingleTimeCommands(cb *VulkanCommandBuffer, queue vk.Queue) error {
	defer cp.Free(cb)

	if err := cb.End(); err != nil {
		return err
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	driver := cp.context.Driver
	if res := driver.QueueSubmit(queue, []vk.SubmitInfo{submitInfo}, nil); res != vk.Success {
		return vkError(res, "submitting single time commands")
	}
	cb.UpdateSubmitted()
	if res := driver.QueueWaitIdle(queue); res != vk.Success {
		return errors.Wrap(vkError(res, "vkQueueWaitIdle"), "waiting for single time commands")
	}
	return nil
}
