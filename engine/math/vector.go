package math

import gomath "math"

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{x, y, z}
}

// ToVec4 returns a vec4 using v as the x, y and z components.
func (v Vec3) ToVec4(w float32) Vec4 {
	return Vec4{v.X, v.Y, v.Z, w}
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{x, y, z, w}
}

// Lerp interpolates component-wise between v and other, t in [0, 1].
func (v Vec4) Lerp(other Vec4, t float32) Vec4 {
	t = Clamp(t, 0, 1)
	return Vec4{
		X: v.X + (other.X-v.X)*t,
		Y: v.Y + (other.Y-v.Y)*t,
		Z: v.Z + (other.Z-v.Z)*t,
		W: v.W + (other.W-v.W)*t,
	}
}

// RGBA8 converts a colour in [0, 1] to 8 bit channels.
func (v Vec4) RGBA8() [4]uint8 {
	c := func(f float32) uint8 {
		return uint8(Clamp(f, 0, 1)*255 + 0.5)
	}
	return [4]uint8{c(v.X), c(v.Y), c(v.Z), c(v.W)}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

func (v Vec3) Length() float32 {
	return float32(gomath.Sqrt(float64(v.Dot(v))))
}

// Normalized returns v scaled to unit length, or v itself when it is zero.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}
