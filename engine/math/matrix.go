package math

import gomath "math"

func NewMat4Identity() Mat4 {
	m := Mat4{}
	m.Data[0] = 1
	m.Data[5] = 1
	m.Data[10] = 1
	m.Data[15] = 1
	return m
}

// Mul returns the transform that applies m first and other second.
func (m Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += m.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

// Transform applies m to the point p and returns the homogeneous result.
func (m Mat4) Transform(p Vec3) Vec4 {
	d := m.Data
	return Vec4{
		X: d[0]*p.X + d[4]*p.Y + d[8]*p.Z + d[12],
		Y: d[1]*p.X + d[5]*p.Y + d[9]*p.Z + d[13],
		Z: d[2]*p.X + d[6]*p.Y + d[10]*p.Z + d[14],
		W: d[3]*p.X + d[7]*p.Y + d[11]*p.Z + d[15],
	}
}

// NewMat4Perspective builds a right handed projection for Vulkan clip space:
// depth maps to [0, 1] and Y points down.
func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	f := float32(1 / gomath.Tan(float64(fovRadians)*0.5))
	m := Mat4{}
	m.Data[0] = f / aspectRatio
	m.Data[5] = -f
	m.Data[10] = farClip / (nearClip - farClip)
	m.Data[11] = -1
	m.Data[14] = nearClip * farClip / (nearClip - farClip)
	return m
}

// NewMat4LookAt returns the view matrix of a camera at position looking at
// target. The camera looks down its own -Z axis.
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	forward := target.Sub(position).Normalized()
	right := forward.Cross(up).Normalized()
	camUp := right.Cross(forward)

	m := Mat4{}
	m.Data[0] = right.X
	m.Data[4] = right.Y
	m.Data[8] = right.Z
	m.Data[1] = camUp.X
	m.Data[5] = camUp.Y
	m.Data[9] = camUp.Z
	m.Data[2] = -forward.X
	m.Data[6] = -forward.Y
	m.Data[10] = -forward.Z
	m.Data[12] = -right.Dot(position)
	m.Data[13] = -camUp.Dot(position)
	m.Data[14] = forward.Dot(position)
	m.Data[15] = 1
	return m
}
