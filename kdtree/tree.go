// Package kdtree implements a KD-tree over a static triangle soup and the
// nearest-hit ray queries it accelerates.
//
// Triangles are partitioned with spatial median splits along the axis of
// largest extent. Triangles that straddle a split plane (within a tolerance
// band) stay in the node that split them instead of being duplicated into both
// children, so every triangle is stored exactly once. Built trees can be
// cached to disk to skip construction on subsequent runs.
package kdtree

import (
	"time"

	"github.com/achilleasa/kdtracer/log"
	"github.com/achilleasa/kdtracer/types"
	"github.com/pkg/errors"
)

// Tree is a KD-tree together with the triangle store it partitions. A tree is
// immutable once Build returns; Build itself must not run concurrently with
// queries or another Build on the same tree.
type Tree struct {
	logger log.Logger
	opts   Options

	triangles []Triangle
	nodes     []Node
	stats     Stats
}

// Create an empty tree.
func New(opts Options) *Tree {
	return &Tree{
		logger: log.New("kd-tree"),
		opts:   opts.normalize(),
	}
}

// Build the tree from the triangles supplied by loader. If caching is enabled
// and a matching cache file exists, the cached tree is used as is. Otherwise
// the tree is built from scratch and, if the observer agrees, written to
// the cache. Cache failures are logged and never fail the build.
func (t *Tree) Build(loader Loader) error {
	if loader == nil {
		return ErrNilLoader
	}

	t.triangles = nil
	t.nodes = nil
	t.stats = Stats{}

	start := time.Now()
	observer := t.opts.Observer
	cachePath := t.CachePath(loader)
	useCache := t.opts.UseCache && cachePath != ""

	var digest meshDigest
	if useCache {
		digest = digestMesh(loader)

		observer.Status(StatusLoadingCache)
		err := t.loadCacheFile(cachePath, digest)
		if err == nil {
			t.stats = collectStats(t.triangles, t.nodes)
			t.stats.FromCache = true
			t.stats.BuildTime = time.Since(start)
			t.logger.Noticef("loaded cached KD-tree from %q in %d ms", cachePath, t.stats.BuildTime.Nanoseconds()/1e6)
			return nil
		}

		if errors.Cause(err) == ErrCacheMiss {
			t.logger.Infof("no cached KD-tree at %q", cachePath)
		} else {
			t.logger.Warningf("ignoring cached KD-tree: %s", err.Error())
		}
	}

	observer.Status(StatusProcessingGeometry)
	triangles, bbox := buildTriangles(loader)
	t.logger.Debugf("processed %d triangles; mesh bbox: %v - %v", len(triangles), bbox[0], bbox[1])

	observer.Status(StatusBuildingTree)
	nodes := buildTree(triangles, t.opts.MaxTrianglesPerLeaf, t.opts.MaxDepth)

	t.triangles = triangles
	t.nodes = nodes
	t.stats = collectStats(t.triangles, t.nodes)
	t.stats.BuildTime = time.Since(start)
	t.logger.Noticef(
		"built KD-tree in %d ms; triangles: %d, nodes: %d, max depth: %d",
		t.stats.BuildTime.Nanoseconds()/1e6, t.stats.Triangles, t.stats.Nodes, t.stats.MaxDepth,
	)

	if useCache && observer.ConfirmCache() {
		observer.Status(StatusCachingTree)
		if err := t.writeCacheFile(cachePath, digest); err != nil {
			t.logger.Warningf("could not cache KD-tree: %s", err.Error())
		}
	}

	return nil
}

// Get the cache file path for a loader.
func (t *Tree) CachePath(loader Loader) string {
	if t.opts.CachePath != "" {
		return t.opts.CachePath
	}
	if loader == nil || loader.Filename() == "" {
		return ""
	}
	return loader.Filename() + CacheFileExtension
}

// Returns true if the tree contains no nodes.
func (t *Tree) IsEmpty() bool {
	return len(t.nodes) == 0
}

// Get the root node AABB or a zero box if the tree is empty.
func (t *Tree) AABB() (min, max types.Vec3) {
	if t.IsEmpty() {
		return types.Vec3{}, types.Vec3{}
	}
	return t.nodes[0].Min, t.nodes[0].Max
}

// Get the number of triangles in the tree.
func (t *Tree) NumTriangles() int {
	return len(t.triangles)
}

// Get the number of tree nodes.
func (t *Tree) NumNodes() int {
	return len(t.nodes)
}

// Get the tree options.
func (t *Tree) Options() Options {
	return t.opts
}

// Get the triangle store. The returned slice must not be modified.
func (t *Tree) Triangles() []Triangle {
	return t.triangles
}

// Get the tree nodes. The returned slice must not be modified.
func (t *Tree) Nodes() []Node {
	return t.nodes
}

// Get tree statistics.
func (t *Tree) Stats() Stats {
	return t.stats
}
