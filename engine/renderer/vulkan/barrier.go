package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

type layoutTransition struct {
	from, to vk.ImageLayout
}

type transitionMasks struct {
	srcStage  vk.PipelineStageFlags
	dstStage  vk.PipelineStageFlags
	srcAccess vk.AccessFlags
	dstAccess vk.AccessFlags
}

// Every image layout change the renderer performs. Anything else is a bug.
var layoutTransitions = map[layoutTransition]transitionMasks{
	// Nothing to wait for, but a source stage of TRANSFER still chains with
	// a semaphore wait on that stage.
	{vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal}: {
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		srcAccess: 0,
		dstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
	},
	{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal}: {
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		srcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
	},
	{vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutTransferDstOptimal}: {
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		srcAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		dstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
	},
}

func lookupTransition(from, to vk.ImageLayout) (transitionMasks, error) {
	masks, ok := layoutTransitions[layoutTransition{from, to}]
	if !ok {
		return transitionMasks{}, errors.AssertionFailedf("unsupported layout transition %d -> %d", from, to)
	}
	return masks, nil
}

// BufferUse names who reads a buffer after a transfer wrote it.
type BufferUse int

const (
	// Vertex, index and shader reads while drawing.
	BufferUseDraw BufferUse = iota
	// CPU reads through a mapped pointer after the submission completed.
	BufferUseHostRead
)

// Every transfer to consumer hand-off the renderer records for buffers.
var bufferTransitions = map[BufferUse]transitionMasks{
	BufferUseDraw: {
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit),
		srcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		dstAccess: vk.AccessFlags(vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit | vk.AccessShaderReadBit),
	},
	BufferUseHostRead: {
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageHostBit),
		srcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		dstAccess: vk.AccessFlags(vk.AccessHostReadBit),
	},
}

// bufferBarrier makes a transfer write to the whole buffer visible to use.
func bufferBarrier(buffer vk.Buffer, use BufferUse) (vk.BufferMemoryBarrier, transitionMasks, error) {
	masks, ok := bufferTransitions[use]
	if !ok {
		return vk.BufferMemoryBarrier{}, masks, errors.AssertionFailedf("unsupported buffer use %d", use)
	}
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       masks.srcAccess,
		DstAccessMask:       masks.dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buffer,
		Offset:              0,
		Size:                vk.DeviceSize(vk.WholeSize),
	}
	return barrier, masks, nil
}

func colorSubresourceRange() vk.ImageSubresourceRange {
	return subresourceRange(vk.ImageAspectColorBit)
}

func subresourceRange(aspect vk.ImageAspectFlagBits) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(aspect),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// imageBarrier builds the barrier moving image from one layout to another.
func imageBarrier(image vk.Image, from, to vk.ImageLayout) (vk.ImageMemoryBarrier, transitionMasks, error) {
	masks, err := lookupTransition(from, to)
	if err != nil {
		return vk.ImageMemoryBarrier{}, masks, err
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    colorSubresourceRange(),
		SrcAccessMask:       masks.srcAccess,
		DstAccessMask:       masks.dstAccess,
	}
	return barrier, masks, nil
}
