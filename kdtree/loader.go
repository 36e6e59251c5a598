package kdtree

import "github.com/achilleasa/kdtracer/types"

// TriangleIndices references the vertex attributes of a single triangle.
// UV and normal indices may be negative to indicate a missing attribute.
type TriangleIndices struct {
	Pos      [3]int
	UV       [3]int
	Normal   [3]int
	Material int
}

// The Loader interface is implemented by mesh sources that can feed
// triangle soups to the tree builder.
type Loader interface {
	// The source filename. The cache file path is derived from it.
	Filename() string

	// Number of triangles in the mesh.
	NumTriangles() int

	// Get the attribute indices for a triangle.
	Triangle(index int) TriangleIndices

	// Lookup a vertex position.
	VertexPos(index int) types.Vec3

	// Lookup a texture coordinate. Returns false if the index does not
	// reference a defined uv.
	VertexUV(index int) (types.Vec2, bool)

	// Lookup a vertex normal. Returns false if the index does not
	// reference a defined normal.
	VertexNormal(index int) (types.Vec3, bool)
}
