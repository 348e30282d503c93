package vulkan

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// Bytes of one cube corner, a vec3.
const cubeVertexStride = 3 * 4

// Corner i has x, y and z set from bits 0, 1 and 2.
var cubeIndices = []uint16{
	4, 5, 7, 4, 7, 6, // +Z
	0, 2, 3, 0, 3, 1, // -Z
	1, 3, 7, 1, 7, 5, // +X
	0, 4, 6, 0, 6, 2, // -X
	6, 7, 3, 6, 3, 2, // +Y
	0, 1, 5, 0, 5, 4, // -Y
}

func cubeVertexData() []byte {
	out := make([]byte, 0, 8*cubeVertexStride)
	for i := 0; i < 8; i++ {
		for axis := 0; axis < 3; axis++ {
			v := float32(-0.5)
			if i&(1<<axis) != 0 {
				v = 0.5
			}
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out
}

func cubeIndexData() []byte {
	out := make([]byte, 0, len(cubeIndices)*2)
	for _, idx := range cubeIndices {
		out = binary.LittleEndian.AppendUint16(out, idx)
	}
	return out
}

// CubeMesh is the unit cube every voxel instance is expanded from, counter
// clockwise seen from outside.
type CubeMesh struct {
	IndexCount uint32

	vertices  ResourceHandle
	indices   ResourceHandle
	resources *ResourceManager
}

// NewCubeMesh uploads the cube into device local vertex and index buffers.
func NewCubeMesh(rm *ResourceManager) (*CubeMesh, error) {
	vertices := cubeVertexData()
	vh, err := rm.CreateDeviceLocalBuffer(uint64(len(vertices)), vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), vertices)
	if err != nil {
		return nil, errors.Wrap(err, "uploading cube vertices")
	}
	indices := cubeIndexData()
	ih, err := rm.CreateDeviceLocalBuffer(uint64(len(indices)), vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit), indices)
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "uploading cube indices"), rm.Destroy(vh))
	}
	return &CubeMesh{
		IndexCount: uint32(len(cubeIndices)),
		vertices:   vh,
		indices:    ih,
		resources:  rm,
	}, nil
}

// Bind binds the cube corners at binding 0, instances at binding 1 and the
// cube's index buffer.
func (m *CubeMesh) Bind(cb *VulkanCommandBuffer, instances vk.Buffer) error {
	vb, err := m.resources.Buffer(m.vertices)
	if err != nil {
		return err
	}
	ib, err := m.resources.Buffer(m.indices)
	if err != nil {
		return err
	}
	cb.BindVertexBuffers(cubeBinding, vb, instances)
	cb.BindIndexBuffer(ib)
	return nil
}

func (m *CubeMesh) Destroy() error {
	if m.resources == nil {
		return nil
	}
	err := errors.CombineErrors(m.resources.Destroy(m.vertices), m.resources.Destroy(m.indices))
	m.resources = nil
	return err
}
