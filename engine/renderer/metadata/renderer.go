package metadata

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/automata/engine/math"
)

// InstanceStride is the size in bytes of one encoded VoxelInstance.
const InstanceStride = 7 * 4

// VoxelInstance is one live cell of the automaton as the vertex shader sees it.
type VoxelInstance struct {
	// Cell centre in world space.
	Position math.Vec3
	Colour   math.Vec4
}

/** @brief Everything the renderer needs to draw one frame. */
type RenderPacket struct {
	DeltaTime float64
	/** @brief Colour the swapchain image is cleared to. */
	ClearColor [4]float32
	/** @brief Tightly packed VoxelInstance data, see EncodeInstances. */
	InstanceData  []byte
	InstanceCount uint32
	/** @brief Pushed to the vertex shader, world to clip space. */
	ViewProjection math.Mat4
}

// EncodeInstances packs instances into buf, growing it when needed, and
// returns the filled slice.
func EncodeInstances(buf []byte, instances []VoxelInstance) []byte {
	need := len(instances) * InstanceStride
	if cap(buf) < need {
		buf = make([]byte, need)
	}
	buf = buf[:need]
	for i, inst := range instances {
		off := i * InstanceStride
		for j, f := range [7]float32{
			inst.Position.X, inst.Position.Y, inst.Position.Z,
			inst.Colour.X, inst.Colour.Y, inst.Colour.Z, inst.Colour.W,
		} {
			binary.LittleEndian.PutUint32(buf[off+j*4:], gomath.Float32bits(f))
		}
	}
	return buf
}
