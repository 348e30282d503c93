package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/automata/engine/core"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool

	context *VulkanContext
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	handle, res := context.Driver.CreateFence(context.LogicalDevice(), createSignaled)
	if res != vk.Success {
		return nil, vkError(res, "creating fence")
	}
	return &VulkanFence{
		Handle: handle,
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
		context:    context,
	}, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vf.context.Driver.DestroyFence(vf.context.LogicalDevice(), vf.Handle)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// Recreate swaps the handle for a new one so every pointer to vf stays
// valid. The fence must not be pending.
func (vf *VulkanFence) Recreate(signaled bool) error {
	handle, res := vf.context.Driver.CreateFence(vf.context.LogicalDevice(), signaled)
	if res != vk.Success {
		return vkError(res, "recreating fence")
	}
	if vf.Handle != nil {
		vf.context.Driver.DestroyFence(vf.context.LogicalDevice(), vf.Handle)
	}
	vf.Handle = handle
	vf.IsSignaled = signaled
	return nil
}

// Wait blocks until the fence is signaled or timeoutNs elapses.
func (vf *VulkanFence) Wait(timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vf.context.Driver.WaitForFences(vf.context.LogicalDevice(), []vk.Fence{vf.Handle}, true, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("fence wait timed out after %dns", timeoutNs)
		return errors.Newf("fence wait timed out after %dns", timeoutNs)
	default:
		return vkError(result, "vkWaitForFences")
	}
}

func (vf *VulkanFence) Reset() error {
	if !vf.IsSignaled {
		return nil
	}
	if res := vf.context.Driver.ResetFences(vf.context.LogicalDevice(), []vk.Fence{vf.Handle}); res != vk.Success {
		return vkError(res, "vkResetFences")
	}
	vf.IsSignaled = false
	return nil
}
