package kdtree

import (
	"time"

	"github.com/achilleasa/kdtracer/log"
	"github.com/achilleasa/kdtracer/types"
)

// Triangles whose extent along the split axis ends within this fraction of the
// axis length past the split plane (or starts within it before the plane) are
// still pushed to a child; the rest stay in the node.
const straddleBand float32 = 0.3

type builder struct {
	logger log.Logger

	// The triangle store; partitioned in place.
	triangles []Triangle

	// Tree nodes stored as a contiguous list
	nodes []Node

	// Ranges with this many triangles or fewer become leaves.
	maxLeafTriangles int

	// Nodes at this depth become leaves.
	maxDepth int

	// Number of nodes that were forced into leaves by the depth guard or
	// because partitioning made no progress.
	forcedLeaves int
}

// Partition the triangle store into a KD-tree and return the tree nodes. The
// triangle slice is reordered in place so that every node references a
// contiguous triangle range. The root node, if any, is stored at index 0.
func buildTree(triangles []Triangle, maxLeafTriangles, maxDepth int) []Node {
	b := &builder{
		logger:           log.New("kd-tree builder"),
		triangles:        triangles,
		nodes:            make([]Node, 0, 2*len(triangles)/(maxLeafTriangles+1)+1),
		maxLeafTriangles: maxLeafTriangles,
		maxDepth:         maxDepth,
	}

	start := time.Now()
	b.build(0, len(triangles), 0)
	b.logger.Debugf(
		"KD-tree build time: %d ms, triangles: %d, nodes: %d, forced leaves: %d",
		time.Since(start).Nanoseconds()/1e6,
		len(triangles), len(b.nodes), b.forcedLeaves,
	)
	return b.nodes
}

// Build the sub-tree for triangle range [l, r) and return its node index.
func (b *builder) build(l, r, depth int) NodeIndex {
	if l >= r {
		return NoChild
	}

	bbox := b.rangeBBox(l, r)

	// Split along the axis with the largest extent; ties favor X, then Y.
	size := bbox[1].Sub(bbox[0])
	axis := 0
	if size[1] > size[0] {
		axis = 1
	}
	if size[2] > size[0] && size[2] > size[1] {
		axis = 2
	}
	axisLen := size[axis]
	separator := bbox[0][axis] + axisLen*0.5

	// Triangles in [l, keptEnd) stay in this node, [keptEnd, rightStart)
	// go left and [rightStart, r) go right.
	keptEnd, rightStart := r, r
	if r-l > b.maxLeafTriangles {
		if depth >= b.maxDepth {
			b.forcedLeaves++
		} else {
			keptEnd, rightStart = b.partition(l, r, axis, separator, axisLen*straddleBand)

			// A child that inherits the entire range would repeat this
			// exact split forever.
			if keptEnd == l && (rightStart == l || rightStart == r) {
				keptEnd, rightStart = r, r
				b.forcedLeaves++
			}
		}
	}

	// Reserve the node slot before recursing so the root ends up at index 0.
	nodeIndex := NodeIndex(len(b.nodes))
	b.nodes = append(b.nodes, Node{})

	left := b.build(keptEnd, rightStart, depth+1)
	right := b.build(rightStart, r, depth+1)

	b.nodes[nodeIndex] = Node{
		Min:           bbox[0],
		Max:           bbox[1],
		Axis:          uint8(axis),
		StartTriangle: int32(l),
		NumTriangles:  int32(keptEnd - l),
		Left:          left,
		Right:         right,
	}
	return nodeIndex
}

// Three-way in-place partition of [l, r). Triangles that straddle the
// separator band are swapped to the front of the range, triangles that lie
// right of it are swapped to the back, and left triangles end up in between.
// Returns the end of the straddling run and the start of the right run.
func (b *builder) partition(l, r, axis int, separator, band float32) (keptEnd, rightStart int) {
	keptEnd = l
	last := r - 1
	for i := l; i <= last; i++ {
		tmin, tmax := b.triangles[i].axisExtent(axis)
		switch {
		case tmax < separator+band:
			// left; stays where it is
		case tmin > separator-band:
			b.swap(i, last)
			last--
			i--
		default:
			if keptEnd < i {
				b.swap(i, keptEnd)
			}
			keptEnd++
		}
	}
	return keptEnd, last + 1
}

func (b *builder) swap(i, j int) {
	b.triangles[i], b.triangles[j] = b.triangles[j], b.triangles[i]
}

// Calculate the tight AABB for all vertices of the triangles in [l, r).
func (b *builder) rangeBBox(l, r int) [2]types.Vec3 {
	bbox := [2]types.Vec3{b.triangles[l].Pos[0], b.triangles[l].Pos[0]}
	for i := l; i < r; i++ {
		for _, v := range b.triangles[i].Pos {
			bbox[0] = types.MinVec3(bbox[0], v)
			bbox[1] = types.MaxVec3(bbox[1], v)
		}
	}
	return bbox
}
