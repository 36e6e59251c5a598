package kdtree

import (
	"math"

	"github.com/achilleasa/kdtracer/types"
)

// A Triangle holds pre-transformed geometry together with the data required
// for solving ray/plane and barycentric equations without per-ray setup.
type Triangle struct {
	Pos [3]types.Vec3

	// Plane equation: dot(N, p) + D = 0.
	N types.Vec3
	D float32

	// Edges from Pos[0] and the barycentric basis built from them.
	V0, V1   types.Vec3
	Dot00    float32
	Dot01    float32
	Dot11    float32
	InvDenom float32

	// Shading attributes.
	UV      [3]types.Vec2
	Normals [3]types.Vec3

	Material int32

	// The index of the triangle in the loader that supplied it.
	ID int32
}

// Setup the plane equation and barycentric basis from the triangle vertices.
// Degenerate triangles end up with a zero normal and a non-finite InvDenom.
func (t *Triangle) precompute() {
	t.V0 = t.Pos[1].Sub(t.Pos[0])
	t.V1 = t.Pos[2].Sub(t.Pos[0])

	t.N = t.V0.Cross(t.V1).Normalize()
	t.D = -t.N.Dot(t.Pos[0])

	t.Dot00 = t.V0.Dot(t.V0)
	t.Dot01 = t.V0.Dot(t.V1)
	t.Dot11 = t.V1.Dot(t.V1)
	t.InvDenom = 1.0 / (t.Dot00*t.Dot11 - t.Dot01*t.Dot01)
}

// Get the min and max vertex coordinate along an axis.
func (t *Triangle) axisExtent(axis int) (min, max float32) {
	min, max = t.Pos[0][axis], t.Pos[0][axis]
	for _, p := range t.Pos[1:] {
		if p[axis] < min {
			min = p[axis]
		}
		if p[axis] > max {
			max = p[axis]
		}
	}
	return min, max
}

// Returns true if the triangle has zero area.
func (t *Triangle) IsDegenerate() bool {
	inv := float64(t.InvDenom)
	return math.IsInf(inv, 0) || math.IsNaN(inv) || t.N == types.Vec3{}
}

// Populate the triangle store from a loader. Missing uvs default to zero and
// missing normals fall back to the face normal. The returned bbox covers
// all vertices.
func buildTriangles(loader Loader) ([]Triangle, [2]types.Vec3) {
	numTris := loader.NumTriangles()
	triangles := make([]Triangle, numTris)
	bbox := emptyBBox()

	for i := 0; i < numTris; i++ {
		t := &triangles[i]
		indices := loader.Triangle(i)
		t.ID = int32(i)
		t.Material = int32(indices.Material)

		for j := 0; j < 3; j++ {
			t.Pos[j] = loader.VertexPos(indices.Pos[j])
			if uv, ok := loader.VertexUV(indices.UV[j]); ok {
				t.UV[j] = uv
			}
			bbox[0] = types.MinVec3(bbox[0], t.Pos[j])
			bbox[1] = types.MaxVec3(bbox[1], t.Pos[j])
		}

		t.precompute()

		for j := 0; j < 3; j++ {
			if n, ok := loader.VertexNormal(indices.Normal[j]); ok {
				t.Normals[j] = n
			} else {
				t.Normals[j] = t.N
			}
		}
	}

	if numTris == 0 {
		bbox = [2]types.Vec3{}
	}
	return triangles, bbox
}

func emptyBBox() [2]types.Vec3 {
	return [2]types.Vec3{
		{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}
