package math

import (
	"encoding/binary"
	stdmath "math"
)

type Vec3 struct {
	X, Y, Z float32
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Up() Vec3 {
	return Vec3{Y: 1}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
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
	return float32(stdmath.Sqrt(float64(v.Dot(v))))
}

// Normalized returns a unit copy of v; the zero vector stays zero.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return Vec3{X: v.X / l, Y: v.Y / l, Z: v.Z / l}
}

// Mat4 is a column-major 4x4 matrix, the layout shaders read from a constant
// buffer.
type Mat4 struct {
	Data [16]float32
}

func NewMat4Identity() Mat4 {
	var m Mat4
	m.Data[0] = 1
	m.Data[5] = 1
	m.Data[10] = 1
	m.Data[15] = 1
	return m
}

// Mul returns m * other, so other is applied first.
func (m Mat4) Mul(other Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for i := 0; i < 4; i++ {
				sum += m.Data[i*4+row] * other.Data[col*4+i]
			}
			out.Data[col*4+row] = sum
		}
	}
	return out
}

// NewMat4Perspective builds a right-handed projection with a [0, 1] depth
// range and Y pointing down in clip space.
func NewMat4Perspective(fovRadians, aspect, near, far float32) Mat4 {
	f := float32(1 / stdmath.Tan(float64(fovRadians)*0.5))
	var m Mat4
	m.Data[0] = f / aspect
	m.Data[5] = -f
	m.Data[10] = far / (near - far)
	m.Data[11] = -1
	m.Data[14] = near * far / (near - far)
	return m
}

func NewMat4LookAt(eye, target, up Vec3) Mat4 {
	forward := target.Sub(eye).Normalized()
	right := forward.Cross(up).Normalized()
	camUp := right.Cross(forward)

	m := NewMat4Identity()
	m.Data[0] = right.X
	m.Data[4] = right.Y
	m.Data[8] = right.Z
	m.Data[1] = camUp.X
	m.Data[5] = camUp.Y
	m.Data[9] = camUp.Z
	m.Data[2] = -forward.X
	m.Data[6] = -forward.Y
	m.Data[10] = -forward.Z
	m.Data[12] = -right.Dot(eye)
	m.Data[13] = -camUp.Dot(eye)
	m.Data[14] = forward.Dot(eye)
	return m
}

// MulPoint transforms p with w = 1 and divides by the resulting w.
func (m Mat4) MulPoint(p Vec3) Vec3 {
	x := m.Data[0]*p.X + m.Data[4]*p.Y + m.Data[8]*p.Z + m.Data[12]
	y := m.Data[1]*p.X + m.Data[5]*p.Y + m.Data[9]*p.Z + m.Data[13]
	z := m.Data[2]*p.X + m.Data[6]*p.Y + m.Data[10]*p.Z + m.Data[14]
	w := m.Data[3]*p.X + m.Data[7]*p.Y + m.Data[11]*p.Z + m.Data[15]
	if w == 0 {
		return Vec3{X: x, Y: y, Z: z}
	}
	return Vec3{X: x / w, Y: y / w, Z: z / w}
}

// AppendBytes appends the matrix as 16 little-endian float32 values.
func (m Mat4) AppendBytes(buf []byte) []byte {
	for _, v := range m.Data {
		buf = binary.LittleEndian.AppendUint32(buf, stdmath.Float32bits(v))
	}
	return buf
}

func DegToRad(degrees float32) float32 {
	return degrees * stdmath.Pi / 180
}
