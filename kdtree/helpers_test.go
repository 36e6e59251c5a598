package kdtree

import (
	"math/rand"
	"os"
	"testing"

	"github.com/achilleasa/kdtracer/log"
	"github.com/achilleasa/kdtracer/types"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.Silent)
	os.Exit(m.Run())
}

var noAttrib = [3]int{-1, -1, -1}

// An in-memory loader.
type testMesh struct {
	filename  string
	positions []types.Vec3
	uvs       []types.Vec2
	normals   []types.Vec3
	tris      []TriangleIndices
}

func (m *testMesh) Filename() string { return m.filename }

func (m *testMesh) NumTriangles() int { return len(m.tris) }

func (m *testMesh) Triangle(i int) TriangleIndices { return m.tris[i] }

func (m *testMesh) VertexPos(i int) types.Vec3 { return m.positions[i] }

func (m *testMesh) VertexUV(i int) (types.Vec2, bool) {
	if i < 0 || i >= len(m.uvs) {
		return types.Vec2{}, false
	}
	return m.uvs[i], true
}

func (m *testMesh) VertexNormal(i int) (types.Vec3, bool) {
	if i < 0 || i >= len(m.normals) {
		return types.Vec3{}, false
	}
	return m.normals[i], true
}

func (m *testMesh) addTriangle(a, b, c types.Vec3) {
	base := len(m.positions)
	m.positions = append(m.positions, a, b, c)
	m.tris = append(m.tris, TriangleIndices{
		Pos:    [3]int{base, base + 1, base + 2},
		UV:     noAttrib,
		Normal: noAttrib,
	})
}

// Add a quad as two triangles: (a, b, c) and (a, c, d).
func (m *testMesh) addQuad(a, b, c, d types.Vec3) {
	m.addTriangle(a, b, c)
	m.addTriangle(a, c, d)
}

// Create a closed axis-aligned box mesh made of 12 triangles.
func newBoxMesh(min, max types.Vec3) *testMesh {
	m := &testMesh{}
	p := func(x, y, z int) types.Vec3 {
		v := min
		if x == 1 {
			v[0] = max[0]
		}
		if y == 1 {
			v[1] = max[1]
		}
		if z == 1 {
			v[2] = max[2]
		}
		return v
	}

	m.addQuad(p(0, 0, 0), p(1, 0, 0), p(1, 1, 0), p(0, 1, 0)) // -z
	m.addQuad(p(0, 0, 1), p(0, 1, 1), p(1, 1, 1), p(1, 0, 1)) // +z
	m.addQuad(p(0, 0, 0), p(0, 1, 0), p(0, 1, 1), p(0, 0, 1)) // -x
	m.addQuad(p(1, 0, 0), p(1, 0, 1), p(1, 1, 1), p(1, 1, 0)) // +x
	m.addQuad(p(0, 0, 0), p(0, 0, 1), p(1, 0, 1), p(1, 0, 0)) // -y
	m.addQuad(p(0, 1, 0), p(1, 1, 0), p(1, 1, 1), p(0, 1, 1)) // +y
	return m
}

// Create a mesh with numTris random triangles inside a box with the given side.
// Triangle sides are at most maxEdge long.
func newRandomMesh(seed int64, numTris int, side, maxEdge float32) *testMesh {
	rng := rand.New(rand.NewSource(seed))
	randVec := func(scale float32) types.Vec3 {
		return types.Vec3{rng.Float32() * scale, rng.Float32() * scale, rng.Float32() * scale}
	}

	m := &testMesh{filename: "random.obj"}
	for i := 0; i < numTris; i++ {
		a := randVec(side)
		b := a.Add(randVec(maxEdge))
		c := a.Add(randVec(maxEdge))
		m.addTriangle(a, b, c)
	}
	return m
}

// Create a tree without caching.
func newTestTree(t testing.TB, loader Loader, maxTrisPerLeaf int) *Tree {
	opts := DefaultOptions()
	opts.UseCache = false
	opts.MaxTrianglesPerLeaf = maxTrisPerLeaf

	tree := New(opts)
	if err := tree.Build(loader); err != nil {
		t.Fatal(err)
	}
	return tree
}

type recordingObserver struct {
	statuses []string
	confirm  bool
	asked    int
}

func (o *recordingObserver) Status(msg string) {
	o.statuses = append(o.statuses, msg)
}

func (o *recordingObserver) ConfirmCache() bool {
	o.asked++
	return o.confirm
}

func approxEqual(a, b, eps float32) bool {
	d := a - b
	return d <= eps && d >= -eps
}

func approxEqualVec3(a, b types.Vec3, eps float32) bool {
	return approxEqual(a[0], b[0], eps) && approxEqual(a[1], b[1], eps) && approxEqual(a[2], b[2], eps)
}
