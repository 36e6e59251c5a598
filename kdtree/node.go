package kdtree

import "github.com/achilleasa/kdtracer/types"

// NodeIndex addresses a node in the tree node array.
type NodeIndex int32

// NoChild marks a missing child node. The root is always stored at index 0.
const NoChild NodeIndex = -1

// A Node covers an AABB and owns a contiguous run of triangles from the
// triangle store. Triangles that straddle the node split plane stay in the
// node; everything else is pushed to the children.
type Node struct {
	Min types.Vec3
	Max types.Vec3

	// Split axis: 0 (X), 1 (Y) or 2 (Z).
	Axis uint8

	StartTriangle int32
	NumTriangles  int32

	Left  NodeIndex
	Right NodeIndex
}

// Returns true if this node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == NoChild && n.Right == NoChild
}

// Returns true if p lies inside the node AABB (boundary included).
func (n *Node) contains(p types.Vec3) bool {
	return p[0] >= n.Min[0] && p[1] >= n.Min[1] && p[2] >= n.Min[2] &&
		p[0] <= n.Max[0] && p[1] <= n.Max[1] && p[2] <= n.Max[2]
}
