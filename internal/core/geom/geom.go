// Package geom holds the rigid-transform helpers shared by the assembly loader
// and the kinematics solver. Matrices are mgl64 column-major 4x4 homogeneous
// transforms; translation lives in elements 12..14.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon guards near-zero lengths. Assembly exports are single precision, so
// the float32 machine epsilon is the meaningful floor.
var Epsilon = float64(math.Nextafter32(1, 2) - 1)

var (
	AxisX = mgl64.Vec3{1, 0, 0}
	AxisY = mgl64.Vec3{0, 1, 0}
	AxisZ = mgl64.Vec3{0, 0, 1}
)

// Normalize returns v scaled to unit length, or the zero vector when v has no length.
func Normalize(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l <= 0 {
		return mgl64.Vec3{}
	}
	return v.Mul(1 / l)
}

// IsDegenerate reports whether v is too short to define a direction.
func IsDegenerate(v mgl64.Vec3) bool {
	return v.Len() <= Epsilon
}

func TransformPoint(m mgl64.Mat4, p mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(p.Vec4(1)).Vec3()
}

func TransformDirection(m mgl64.Mat4, d mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(d.Vec4(0)).Vec3()
}

func Translation(m mgl64.Mat4) mgl64.Vec3 {
	return mgl64.Vec3{m[12], m[13], m[14]}
}

// MaxDiff is the largest absolute element difference between a and b.
func MaxDiff(a, b mgl64.Mat4) float64 {
	var worst float64
	for i := range a {
		worst = max(worst, math.Abs(a[i]-b[i]))
	}
	return worst
}

// ApproxEqual compares a and b element-wise against an absolute tolerance.
// mgl64's ApproxEqualThreshold is relative and rejects any residue next to an
// exact zero, which every rotation by a multiple of pi/2 produces.
func ApproxEqual(a, b mgl64.Mat4, tol float64) bool {
	return MaxDiff(a, b) <= tol
}

// ApproxEqualVec is ApproxEqual for vectors.
func ApproxEqualVec(a, b mgl64.Vec3, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func Translate(t mgl64.Vec3) mgl64.Mat4 {
	return mgl64.Translate3D(t[0], t[1], t[2])
}

func RemoveTranslation(m mgl64.Mat4) mgl64.Mat4 {
	m[12], m[13], m[14] = 0, 0, 0
	return m
}

// AxisAngle builds a rotation of angle radians about axis. A degenerate axis
// yields the identity.
func AxisAngle(axis mgl64.Vec3, angle float64) mgl64.Mat4 {
	n := Normalize(axis)
	if n.Len() <= Epsilon {
		return mgl64.Ident4()
	}
	return mgl64.HomogRotate3D(angle, n)
}

// RotateAbout applies a rotation about the line through origin along axis to m.
func RotateAbout(m mgl64.Mat4, origin, axis mgl64.Vec3, angle float64) mgl64.Mat4 {
	toOrigin := Translate(origin.Mul(-1))
	back := Translate(origin)
	return back.Mul4(AxisAngle(axis, angle).Mul4(toOrigin.Mul4(m)))
}

// InvertRigid inverts a rotation+translation transform by transposing the
// rotation block and negating the rotated translation.
func InvertRigid(m mgl64.Mat4) mgl64.Mat4 {
	rt := m.Mat3().Transpose()
	t := rt.Mul3x1(Translation(m)).Mul(-1)
	out := rt.Mat4()
	out[12], out[13], out[14] = t[0], t[1], t[2]
	return out
}

// RotationXYZ builds the assembly exporter's Euler rotation from degrees. The
// exporter writes the transpose of Rz*Ry*Rx.
func RotationXYZ(degrees mgl64.Vec3) mgl64.Mat4 {
	rx := mgl64.Rotate3DX(mgl64.DegToRad(degrees[0]))
	ry := mgl64.Rotate3DY(mgl64.DegToRad(degrees[1]))
	rz := mgl64.Rotate3DZ(mgl64.DegToRad(degrees[2]))
	return rz.Mul3(ry).Mul3(rx).Transpose().Mat4()
}

// ComposeTransform returns T(translation) * RotationXYZ(rotationDegrees).
func ComposeTransform(translation, rotationDegrees mgl64.Vec3) mgl64.Mat4 {
	return Translate(translation).Mul4(RotationXYZ(rotationDegrees))
}

// CombineAttachment returns the child-relative transform parent * inverse(self).
func CombineAttachment(parentAttachment, selfAttachment mgl64.Mat4) mgl64.Mat4 {
	return parentAttachment.Mul4(InvertRigid(selfAttachment))
}

// RotationBetween returns the rotation taking unit vector from onto unit vector
// to. Anti-parallel inputs rotate half a turn about fallbackAxis.
func RotationBetween(from, to, fallbackAxis mgl64.Vec3) mgl64.Mat4 {
	axis := from.Cross(to)
	axisLength := axis.Len()
	dot := mgl64.Clamp(from.Dot(to), -1, 1)
	switch {
	case axisLength > 1e-6:
		return AxisAngle(axis.Mul(1/axisLength), math.Atan2(axisLength, dot))
	case dot < 0:
		return AxisAngle(fallbackAxis, math.Pi)
	default:
		return mgl64.Ident4()
	}
}

// WrapAngle maps angle into [0, 2pi).
func WrapAngle(angle float64) float64 {
	wrapped := math.Mod(angle, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	if wrapped >= 2*math.Pi {
		wrapped = 0
	}
	return wrapped
}
