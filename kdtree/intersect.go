package kdtree

import (
	"math"

	"github.com/achilleasa/kdtracer/types"
)

const (
	// Tolerance for the barycentric inside-triangle test.
	baryEpsilon float32 = 1e-6

	// Ray direction components below this threshold are treated as parallel
	// to the corresponding box slab.
	parallelDirEpsilon float32 = 1e-4

	// Box entry distance assigned to parallel axes so they never get
	// selected as the limiting axis.
	parallelAxisDist float32 = -10000

	// The initial hit distance for new rays.
	MaxHitDistance float32 = 1e9
)

// A Ray that is traced through the tree.
type Ray struct {
	Origin types.Vec3
	Dir    types.Vec3

	// The distance to the closest hit found so far.
	HitLen float32

	// Number of ray/triangle tests performed while tracing this ray.
	TrianglesTested int
}

// Create a new ray.
func NewRay(origin, dir types.Vec3) Ray {
	return Ray{
		Origin: origin,
		Dir:    dir,
		HitLen: MaxHitDistance,
	}
}

// Reset the ray hit state so it can be traced again.
func (r *Ray) Reset() {
	r.HitLen = MaxHitDistance
	r.TrianglesTested = 0
}

// Result describes the closest ray/triangle intersection.
type Result struct {
	// Distance along the ray to the hit point.
	Distance float32

	// Index of the hit triangle in the tree triangle store or -1 if nothing
	// was hit.
	Triangle int32

	// ID of the hit triangle as assigned by the loader.
	TriangleID int32

	Material int32

	// Barycentric weights for triangle vertices 1 (U), 2 (V) and 0 (W).
	U, V, W float32

	Point  types.Vec3
	Normal types.Vec3

	// Fields populated by InterpolateTriangleAttributes.
	UV            types.Vec2
	ShadingNormal types.Vec3
	Tangent       types.Vec3
	Bitangent     types.Vec3
}

// Clear the result.
func (res *Result) Reset() {
	*res = Result{Triangle: -1, TriangleID: -1, Distance: MaxHitDistance}
}

// Returns true if the result describes a hit.
func (res *Result) Hit() bool {
	return res.Triangle >= 0
}

// Find the closest intersection between the ray and the tree triangles. The
// ray hit state and res are reset before tracing. Both are only touched by
// this call so concurrent queries are safe as long as each caller supplies
// its own ray and result.
func (t *Tree) IntersectRay(ray *Ray, res *Result) bool {
	res.Reset()
	ray.Reset()
	if t.IsEmpty() {
		return false
	}

	t.intersectNode(0, ray, res)
	return res.Hit()
}

// Trace a ray with the given origin and direction and return the closest hit.
func (t *Tree) Intersect(origin, dir types.Vec3) (Result, bool) {
	var res Result
	ray := NewRay(origin, dir)
	hit := t.IntersectRay(&ray, &res)
	return res, hit
}

func (t *Tree) intersectNode(nodeIndex NodeIndex, ray *Ray, res *Result) {
	node := &t.nodes[nodeIndex]

	if !node.contains(ray.Origin) {
		entryDist, ok := boxEntryDistance(node, ray)
		if !ok {
			return
		}

		// Nothing in this box can be closer than a hit we already have.
		if res.Hit() && ray.HitLen < entryDist {
			return
		}
	}

	start := int(node.StartTriangle)
	end := start + int(node.NumTriangles)
	for i := start; i < end; i++ {
		t.intersectTriangle(i, ray, res)
	}

	if node.Left != NoChild {
		t.intersectNode(node.Left, ray, res)
	}
	if node.Right != NoChild {
		t.intersectNode(node.Right, ray, res)
	}
}

// Calculate the distance to the box face the ray enters through. The limiting
// axis is the one with the largest distance to its near slab; ties favor X,
// then Y. Returns false if the ray misses the box or the box lies behind it.
func boxEntryDistance(node *Node, ray *Ray) (float32, bool) {
	var dist types.Vec3
	for axis := 0; axis < 3; axis++ {
		d := ray.Dir[axis]
		if float32(math.Abs(float64(d))) <= parallelDirEpsilon {
			dist[axis] = parallelAxisDist
			continue
		}

		corner := node.Max[axis]
		if d > 0 {
			corner = node.Min[axis]
		}
		dist[axis] = (corner - ray.Origin[axis]) / d
	}

	axis := 0
	if dist[1] > dist[0] {
		axis = 1
	}
	if dist[2] > dist[axis] {
		axis = 2
	}

	if !(dist[axis] > 0) {
		return 0, false
	}

	p := ray.Origin.Add(ray.Dir.Mul(dist[axis]))
	for other := 0; other < 3; other++ {
		if other == axis {
			continue
		}
		if p[other] < node.Min[other] || p[other] > node.Max[other] {
			return 0, false
		}
	}

	return dist[axis], true
}

// Test the ray against a single triangle and update res if the triangle is
// hit closer than the current best. All comparisons are written so that NaN
// values (degenerate triangles) are rejected.
func (t *Tree) intersectTriangle(index int, ray *Ray, res *Result) {
	tri := &t.triangles[index]
	ray.TrianglesTested++

	// Solve (origin + k * dir) . N + D = 0
	k := (-tri.D - tri.N.Dot(ray.Origin)) / tri.N.Dot(ray.Dir)
	if !(k >= 0 && k < ray.HitLen) {
		return
	}

	hit := ray.Origin.Add(ray.Dir.Mul(k))
	v2 := hit.Sub(tri.Pos[0])
	dot02 := tri.V0.Dot(v2)
	dot12 := tri.V1.Dot(v2)

	u := (tri.Dot11*dot02 - tri.Dot01*dot12) * tri.InvDenom
	v := (tri.Dot00*dot12 - tri.Dot01*dot02) * tri.InvDenom
	if !(u >= -baryEpsilon && v >= -baryEpsilon && u+v <= 1+baryEpsilon) {
		return
	}

	ray.HitLen = k
	res.Distance = k
	res.Triangle = int32(index)
	res.TriangleID = tri.ID
	res.Material = tri.Material
	res.U = u
	res.V = v
	res.W = 1 - u - v
	res.Point = hit
	res.Normal = tri.N
}
