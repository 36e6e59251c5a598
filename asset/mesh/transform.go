package mesh

import (
	"github.com/achilleasa/kdtracer/types"
	"github.com/go-gl/mathgl/mgl32"
)

// Build an instance transformation matrix M = T * R * S. Rotation angles are
// specified in degrees; yaw rotates around X, pitch around Y and roll around Z
// and they are applied in that order.
func InstanceTransform(translation, rotation, scale types.Vec3) mgl32.Mat4 {
	yaw := mgl32.QuatRotate(mgl32.DegToRad(rotation[0]), mgl32.Vec3{1, 0, 0})
	pitch := mgl32.QuatRotate(mgl32.DegToRad(rotation[1]), mgl32.Vec3{0, 1, 0})
	roll := mgl32.QuatRotate(mgl32.DegToRad(rotation[2]), mgl32.Vec3{0, 0, 1})
	rotMat := roll.Mul(pitch.Mul(yaw)).Normalize().Mat4()

	transMat := mgl32.Translate3D(translation[0], translation[1], translation[2])
	scaleMat := mgl32.Scale3D(scale[0], scale[1], scale[2])

	return transMat.Mul4(rotMat).Mul4(scaleMat)
}

func transformPoint(m mgl32.Mat4, p types.Vec3) types.Vec3 {
	return types.Vec3(mgl32.TransformCoordinate(mgl32.Vec3(p), m))
}

// Normals are transformed by the inverse transpose of the upper 3x3 part of
// the instance matrix so they stay perpendicular under non-uniform scaling.
func normalMatrix(m mgl32.Mat4) mgl32.Mat3 {
	return m.Mat3().Inv().Transpose()
}

func transformNormal(normalMat mgl32.Mat3, n types.Vec3) types.Vec3 {
	return types.Vec3(normalMat.Mul3x1(mgl32.Vec3(n))).Normalize()
}
