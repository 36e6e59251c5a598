package kdtree

import (
	"testing"

	"github.com/achilleasa/kdtracer/types"
)

// Add a triangle with per-vertex uvs and, optionally, per-vertex normals.
func (m *testMesh) addAttribTriangle(pos [3]types.Vec3, uv [3]types.Vec2, normals []types.Vec3) {
	m.addTriangle(pos[0], pos[1], pos[2])
	tri := &m.tris[len(m.tris)-1]

	base := len(m.uvs)
	m.uvs = append(m.uvs, uv[0], uv[1], uv[2])
	tri.UV = [3]int{base, base + 1, base + 2}

	if len(normals) == 3 {
		base = len(m.normals)
		m.normals = append(m.normals, normals...)
		tri.Normal = [3]int{base, base + 1, base + 2}
	}
}

func TestInterpolateUVAndNormal(t *testing.T) {
	mesh := &testMesh{}
	mesh.addAttribTriangle(
		[3]types.Vec3{types.XYZ(0, 0, 0), types.XYZ(1, 0, 0), types.XYZ(0, 1, 0)},
		[3]types.Vec2{types.XY(0, 0), types.XY(1, 0), types.XY(0, 1)},
		[]types.Vec3{types.XYZ(0, 0, 1), types.XYZ(1, 0, 0), types.XYZ(0, 1, 0)},
	)
	tree := newTestTree(t, mesh, 1)

	res, hit := tree.Intersect(types.XYZ(0.25, 0.6, 1), types.XYZ(0, 0, -1))
	if !hit {
		t.Fatal("expected ray to hit the triangle")
	}
	if !approxEqual(res.U, 0.25, 1e-6) || !approxEqual(res.V, 0.6, 1e-6) || !approxEqual(res.W, 0.15, 1e-6) {
		t.Fatalf("expected barycentric coords (u: 0.25, v: 0.6, w: 0.15); got (u: %f, v: %f, w: %f)", res.U, res.V, res.W)
	}

	tree.InterpolateTriangleAttributes(&res, AttrUV|AttrNormal)

	if expUV := types.XY(0.25, 0.6); !approxEqual(res.UV[0], expUV[0], 1e-6) || !approxEqual(res.UV[1], expUV[1], 1e-6) {
		t.Fatalf("expected interpolated uv to be %v; got %v", expUV, res.UV)
	}

	expNormal := types.XYZ(0.25, 0.6, 0.15).Normalize()
	if !approxEqualVec3(res.ShadingNormal, expNormal, 1e-5) {
		t.Fatalf("expected interpolated normal to be %v; got %v", expNormal, res.ShadingNormal)
	}

	if res.Tangent != (types.Vec3{}) || res.Bitangent != (types.Vec3{}) {
		t.Fatal("expected tangent frame not to be computed unless requested")
	}
}

func TestInterpolateOnlyRequestedAttributes(t *testing.T) {
	mesh := &testMesh{}
	mesh.addAttribTriangle(
		[3]types.Vec3{types.XYZ(0, 0, 0), types.XYZ(1, 0, 0), types.XYZ(0, 1, 0)},
		[3]types.Vec2{types.XY(0, 0), types.XY(1, 0), types.XY(0, 1)},
		nil,
	)
	tree := newTestTree(t, mesh, 1)

	res, _ := tree.Intersect(types.XYZ(0.2, 0.2, 1), types.XYZ(0, 0, -1))
	tree.InterpolateTriangleAttributes(&res, AttrUV)
	if res.ShadingNormal != (types.Vec3{}) {
		t.Fatalf("expected shading normal not to be computed; got %v", res.ShadingNormal)
	}

	// A miss is left untouched
	res, hit := tree.Intersect(types.XYZ(5, 5, 1), types.XYZ(0, 0, -1))
	if hit {
		t.Fatal("expected ray to miss")
	}
	tree.InterpolateTriangleAttributes(&res, AttrAll)
	if res.UV != (types.Vec2{}) || res.ShadingNormal != (types.Vec3{}) {
		t.Fatalf("expected attributes of a miss to stay empty; got uv %v, normal %v", res.UV, res.ShadingNormal)
	}
}

func TestMissingNormalsUseFaceNormal(t *testing.T) {
	mesh := &testMesh{}
	mesh.addTriangle(types.XYZ(0, 0, 0), types.XYZ(0, 0, 2), types.XYZ(2, 0, 0))
	tree := newTestTree(t, mesh, 1)

	res, hit := tree.Intersect(types.XYZ(0.5, 3, 0.5), types.XYZ(0, -1, 0))
	if !hit {
		t.Fatal("expected ray to hit the triangle")
	}
	tree.InterpolateTriangleAttributes(&res, AttrNormal)

	if !approxEqualVec3(res.ShadingNormal, res.Normal, 1e-6) {
		t.Fatalf("expected shading normal %v to match face normal %v", res.ShadingNormal, res.Normal)
	}
	if expN := types.XYZ(0, 1, 0); !approxEqualVec3(res.Normal, expN, 1e-6) {
		t.Fatalf("expected face normal to be %v; got %v", expN, res.Normal)
	}
}

func TestTangentFrame(t *testing.T) {
	type spec struct {
		descr  string
		pos    [3]types.Vec3
		uv     [3]types.Vec2
		origin types.Vec3
		expT   types.Vec3
		expB   types.Vec3
	}
	specs := []spec{
		{
			descr:  "planar uv mapping",
			pos:    [3]types.Vec3{types.XYZ(0, 0, 0), types.XYZ(1, 0, 0), types.XYZ(0, 1, 0)},
			uv:     [3]types.Vec2{types.XY(0, 0), types.XY(1, 0), types.XY(0, 1)},
			origin: types.XYZ(0.2, 0.3, 1),
			expT:   types.XYZ(1, 0, 0),
			expB:   types.XYZ(0, 1, 0),
		},
		{
			descr:  "mirrored U",
			pos:    [3]types.Vec3{types.XYZ(0, 0, 0), types.XYZ(1, 0, 0), types.XYZ(0, 1, 0)},
			uv:     [3]types.Vec2{types.XY(0, 0), types.XY(-1, 0), types.XY(0, 1)},
			origin: types.XYZ(0.2, 0.3, 1),
			expT:   types.XYZ(-1, 0, 0),
			expB:   types.XYZ(0, 1, 0),
		},
		{
			descr:  "edge 2-1 with constant U",
			pos:    [3]types.Vec3{types.XYZ(0, 0, 0), types.XYZ(2, 0, 0), types.XYZ(2, 3, 0)},
			uv:     [3]types.Vec2{types.XY(0, 0), types.XY(1, 0), types.XY(1, 1)},
			origin: types.XYZ(1.5, 1, 1),
			expT:   types.XYZ(1, 0, 0),
			expB:   types.XYZ(0, 1, 0),
		},
		{
			descr:  "scaled uvs",
			pos:    [3]types.Vec3{types.XYZ(0, 0, 0), types.XYZ(4, 0, 0), types.XYZ(0, 4, 0)},
			uv:     [3]types.Vec2{types.XY(0.5, 0.5), types.XY(0.5, 1), types.XY(0, 0.5)},
			origin: types.XYZ(1, 1, 1),
			expT:   types.XYZ(0, -1, 0),
			expB:   types.XYZ(1, 0, 0),
		},
	}

	for index, s := range specs {
		mesh := &testMesh{}
		mesh.addAttribTriangle(s.pos, s.uv, nil)
		tree := newTestTree(t, mesh, 1)

		res, hit := tree.Intersect(s.origin, types.XYZ(0, 0, -1))
		if !hit {
			t.Fatalf("[spec %d: %s] expected ray to hit the triangle", index, s.descr)
		}
		tree.InterpolateTriangleAttributes(&res, AttrTangentSpace)

		if !approxEqualVec3(res.Tangent, s.expT, 1e-5) {
			t.Fatalf("[spec %d: %s] expected tangent to be %v; got %v", index, s.descr, s.expT, res.Tangent)
		}
		if !approxEqualVec3(res.Bitangent, s.expB, 1e-5) {
			t.Fatalf("[spec %d: %s] expected bitangent to be %v; got %v", index, s.descr, s.expB, res.Bitangent)
		}
		if !approxEqualVec3(res.ShadingNormal, types.XYZ(0, 0, 1), 1e-5) {
			t.Fatalf("[spec %d: %s] expected shading normal to be computed with the tangent frame; got %v", index, s.descr, res.ShadingNormal)
		}
	}
}

func TestTangentFrameWithoutUVs(t *testing.T) {
	mesh := &testMesh{}
	mesh.addTriangle(types.XYZ(0, 0, 0), types.XYZ(1, 0, 1), types.XYZ(0, 2, 0))
	tree := newTestTree(t, mesh, 1)

	res, hit := tree.Intersect(types.XYZ(0.1, 0.5, 5), types.XYZ(0, 0, -1))
	if !hit {
		t.Fatal("expected ray to hit the triangle")
	}
	tree.InterpolateTriangleAttributes(&res, AttrTangentSpace)

	n, tangent, bitangent := res.ShadingNormal, res.Tangent, res.Bitangent
	for _, v := range []types.Vec3{n, tangent, bitangent} {
		if !approxEqual(v.Len(), 1, 1e-5) {
			t.Fatalf("expected frame vector %v to be normalized", v)
		}
	}
	if !approxEqual(n.Dot(tangent), 0, 1e-5) || !approxEqual(n.Dot(bitangent), 0, 1e-5) || !approxEqual(tangent.Dot(bitangent), 0, 1e-5) {
		t.Fatalf("expected an orthonormal frame; got N: %v, T: %v, B: %v", n, tangent, bitangent)
	}
}
