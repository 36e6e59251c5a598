// Package mesh provides an indexed triangle mesh that can be loaded from
// Wavefront OBJ files and fed to the kd-tree builder.
package mesh

import (
	"github.com/achilleasa/kdtracer/kdtree"
	"github.com/achilleasa/kdtracer/types"
	"github.com/go-gl/mathgl/mgl32"
)

// The name of the material assigned to faces that precede any usemtl statement.
const DefaultMaterialName = "default"

// The name of the group that receives faces defined before any o/g statement.
const DefaultGroupName = "default"

// A triangular face. Indices point into the mesh attribute lists; uv and
// normal indices are negative if the face does not define them.
type Face struct {
	Pos      [3]int
	UV       [3]int
	Normal   [3]int
	Material int
}

// A named list of faces defined by an "o" or "g" statement.
type Group struct {
	Name  string
	Faces []Face
}

// An Instance places a transformed copy of a group in the mesh.
type Instance struct {
	Group     int
	Transform mgl32.Mat4
}

// Mesh is an indexed triangle mesh. If the mesh defines instances, only the
// instanced group copies contribute triangles; otherwise every group does.
type Mesh struct {
	filename string

	Positions []types.Vec3
	UVs       []types.Vec2
	Normals   []types.Vec3

	Groups    []*Group
	Instances []Instance

	// Material names in order of first use.
	Materials []string

	// Material libraries referenced via mtllib. They are recorded but not
	// parsed.
	MaterialLibs []string

	// The flattened triangle soup.
	faces []Face
}

// Create an empty mesh. The filename is used to derive cache file locations
// and may be empty.
func New(filename string) *Mesh {
	return &Mesh{filename: filename}
}

// Get the path to the file this mesh was loaded from.
func (m *Mesh) Filename() string {
	return m.filename
}

// Get the number of triangles in the flattened mesh.
func (m *Mesh) NumTriangles() int {
	return len(m.faces)
}

// Get the attribute indices for triangle i.
func (m *Mesh) Triangle(i int) kdtree.TriangleIndices {
	f := m.faces[i]
	return kdtree.TriangleIndices{
		Pos:      f.Pos,
		UV:       f.UV,
		Normal:   f.Normal,
		Material: f.Material,
	}
}

// Get the vertex position at index i.
func (m *Mesh) VertexPos(i int) types.Vec3 {
	return m.Positions[i]
}

// Get the uv coordinates at index i.
func (m *Mesh) VertexUV(i int) (types.Vec2, bool) {
	if i < 0 || i >= len(m.UVs) {
		return types.Vec2{}, false
	}
	return m.UVs[i], true
}

// Get the vertex normal at index i.
func (m *Mesh) VertexNormal(i int) (types.Vec3, bool) {
	if i < 0 || i >= len(m.Normals) {
		return types.Vec3{}, false
	}
	return m.Normals[i], true
}

// Get the flattened face list.
func (m *Mesh) Faces() []Face {
	return m.faces
}

// Calculate the AABB of the flattened mesh. An empty mesh has a zero bbox.
func (m *Mesh) BBox() [2]types.Vec3 {
	if len(m.faces) == 0 {
		return [2]types.Vec3{}
	}

	first := m.Positions[m.faces[0].Pos[0]]
	bbox := [2]types.Vec3{first, first}
	for _, f := range m.faces {
		for _, index := range f.Pos {
			bbox[0] = types.MinVec3(bbox[0], m.Positions[index])
			bbox[1] = types.MaxVec3(bbox[1], m.Positions[index])
		}
	}
	return bbox
}

// Add a group and return it.
func (m *Mesh) AddGroup(name string) *Group {
	g := &Group{Name: name}
	m.Groups = append(m.Groups, g)
	return g
}

// Find a group by name and return its index or -1 if no group matches.
func (m *Mesh) GroupIndex(name string) int {
	for index, g := range m.Groups {
		if g.Name == name {
			return index
		}
	}
	return -1
}

// Build the flattened triangle soup. Instanced groups get their own
// transformed copies of the positions and normals they reference; uvs are
// shared with the source group.
func (m *Mesh) Finalize() {
	m.faces = m.faces[:0]

	if len(m.Instances) == 0 {
		for _, g := range m.Groups {
			m.faces = append(m.faces, g.Faces...)
		}
		return
	}

	for _, inst := range m.Instances {
		normalMat := normalMatrix(inst.Transform)
		posRemap := make(map[int]int)
		normalRemap := make(map[int]int)

		for _, f := range m.Groups[inst.Group].Faces {
			out := f
			for j := 0; j < 3; j++ {
				index, exists := posRemap[f.Pos[j]]
				if !exists {
					index = len(m.Positions)
					m.Positions = append(m.Positions, transformPoint(inst.Transform, m.Positions[f.Pos[j]]))
					posRemap[f.Pos[j]] = index
				}
				out.Pos[j] = index

				if f.Normal[j] < 0 {
					continue
				}
				index, exists = normalRemap[f.Normal[j]]
				if !exists {
					index = len(m.Normals)
					m.Normals = append(m.Normals, transformNormal(normalMat, m.Normals[f.Normal[j]]))
					normalRemap[f.Normal[j]] = index
				}
				out.Normal[j] = index
			}
			m.faces = append(m.faces, out)
		}
	}
}
