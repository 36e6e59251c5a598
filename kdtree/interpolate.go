package kdtree

import (
	"math"

	"github.com/achilleasa/kdtracer/types"
)

// AttributeFlags select the attributes computed by InterpolateTriangleAttributes.
type AttributeFlags uint8

const (
	AttrUV AttributeFlags = 1 << iota
	AttrNormal
	AttrTangentSpace

	AttrAll = AttrUV | AttrNormal | AttrTangentSpace
)

// UV deltas below this threshold are considered zero.
const uvEpsilon = 1e-6

// Populate the shading attributes of a hit result by blending the per-vertex
// attributes of the hit triangle with the result barycentric weights. Calling
// this method on a result without a hit is a no-op.
//
// Requesting AttrTangentSpace also computes the interpolated normal as the
// tangent frame is orthogonalized against it.
func (t *Tree) InterpolateTriangleAttributes(res *Result, flags AttributeFlags) {
	if !res.Hit() || int(res.Triangle) >= len(t.triangles) {
		return
	}
	tri := &t.triangles[res.Triangle]

	if flags&AttrUV != 0 {
		res.UV = tri.UV[0].Mul(res.W).Add(tri.UV[1].Mul(res.U)).Add(tri.UV[2].Mul(res.V))
	}

	if flags&(AttrNormal|AttrTangentSpace) != 0 {
		res.ShadingNormal = tri.Normals[0].Mul(res.W).
			Add(tri.Normals[1].Mul(res.U)).
			Add(tri.Normals[2].Mul(res.V)).
			Normalize()
	}

	if flags&AttrTangentSpace != 0 {
		tangent, bitangent := tri.tangentFrame()
		res.Tangent, res.Bitangent = orthogonalize(res.ShadingNormal, tangent, bitangent)
	}
}

// Derive the triangle tangent and bitangent from its uv mapping. The vectors
// point towards increasing U and V respectively and are not normalized.
func (tri *Triangle) tangentFrame() (tangent, bitangent types.Vec3) {
	e1 := tri.Pos[1].Sub(tri.Pos[0])
	e2 := tri.Pos[2].Sub(tri.Pos[0])
	duv1 := tri.UV[1].Sub(tri.UV[0])
	duv2 := tri.UV[2].Sub(tri.UV[0])

	// Edge 2->1 runs along V only; it directly gives the bitangent and the
	// tangent follows from edge 1->0 once its V contribution is removed.
	e21 := tri.Pos[2].Sub(tri.Pos[1])
	duv21 := tri.UV[2].Sub(tri.UV[1])
	if abs32(duv21[0]) < uvEpsilon && abs32(duv21[1]) >= uvEpsilon {
		bitangent = e21.Mul(1 / duv21[1])
		if abs32(duv1[0]) >= uvEpsilon {
			tangent = e1.Sub(bitangent.Mul(duv1[1])).Mul(1 / duv1[0])
		} else {
			tangent = bitangent.Cross(tri.N)
		}
		return tangent, bitangent
	}

	det := duv1[0]*duv2[1] - duv2[0]*duv1[1]
	if abs32(det) < uvEpsilon {
		// No usable uv mapping; build an arbitrary frame around the face normal.
		tangent = e1.Normalize()
		bitangent = tri.N.Cross(tangent)
		return tangent, bitangent
	}

	invDet := 1 / det
	tangent = e1.Mul(duv2[1]).Sub(e2.Mul(duv1[1])).Mul(invDet)
	bitangent = e2.Mul(duv1[0]).Sub(e1.Mul(duv2[0])).Mul(invDet)
	return tangent, bitangent
}

// Gram-Schmidt orthogonalize the tangent frame against n while preserving the
// direction of the input tangent and bitangent.
func orthogonalize(n, tangent, bitangent types.Vec3) (types.Vec3, types.Vec3) {
	t := tangent.Sub(n.Mul(n.Dot(tangent))).Normalize()
	if t.Dot(tangent) < 0 {
		t = t.Neg()
	}

	b := bitangent.Sub(n.Mul(n.Dot(bitangent))).Sub(t.Mul(t.Dot(bitangent))).Normalize()
	if b.Dot(bitangent) < 0 {
		b = b.Neg()
	}

	return t, b
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
