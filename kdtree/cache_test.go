package kdtree

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/achilleasa/kdtracer/types"
	"github.com/pkg/errors"
)

func serializeTree(t *testing.T, tree *Tree, loader Loader) []byte {
	var buf bytes.Buffer
	if err := tree.WriteCache(&buf, loader); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCacheRoundTrip(t *testing.T) {
	mesh := newRandomMesh(20, 800, 25, 3)
	// Mix in a degenerate triangle so that non-finite values are also covered
	mesh.addTriangle(types.XYZ(1, 1, 1), types.XYZ(1, 1, 1), types.XYZ(1, 1, 1))
	tree := newTestTree(t, mesh, 4)
	data := serializeTree(t, tree, mesh)

	expLen := cacheHeaderSize + len(tree.Triangles())*triangleRecordSize + len(tree.Nodes())*nodeRecordSize
	if len(data) != expLen {
		t.Fatalf("expected serialized tree to be %d bytes; got %d", expLen, len(data))
	}

	opts := DefaultOptions()
	opts.UseCache = false
	opts.MaxTrianglesPerLeaf = 4
	loaded := New(opts)
	if err := loaded.LoadCache(bytes.NewReader(data), mesh); err != nil {
		t.Fatal(err)
	}

	if !loaded.Stats().FromCache {
		t.Fatal("expected stats to indicate that the tree was loaded from the cache")
	}
	if loaded.Stats().Nodes != tree.Stats().Nodes || loaded.Stats().Triangles != tree.Stats().Triangles {
		t.Fatalf("expected loaded stats to match; got %+v, expected %+v", loaded.Stats(), tree.Stats())
	}

	// Compare serialized forms as NaN fields of degenerate triangles break
	// field by field comparisons.
	if !bytes.Equal(serializeTree(t, loaded, mesh), data) {
		t.Fatal("expected loaded tree to be identical to the serialized tree")
	}

	for index, ray := range randomRays(21, 200, 25) {
		expRay, gotRay := ray, ray
		var expRes, res Result
		tree.IntersectRay(&expRay, &expRes)
		loaded.IntersectRay(&gotRay, &res)
		if res != expRes {
			t.Fatalf("ray %d: expected loaded tree result %+v to match %+v", index, res, expRes)
		}
	}
}

func TestLoadCacheErrors(t *testing.T) {
	mesh := newBoxMesh(types.Vec3{}, types.XYZ(1, 1, 1))
	tree := newTestTree(t, mesh, 1)
	if tree.Nodes()[0].IsLeaf() {
		t.Fatal("expected root node to have children")
	}
	data := serializeTree(t, tree, mesh)
	rootLeftOffset := cacheHeaderSize + len(tree.Triangles())*triangleRecordSize + 36

	otherMesh := newBoxMesh(types.Vec3{}, types.XYZ(1, 2, 1))

	type spec struct {
		descr  string
		mutate func([]byte) []byte
		loader Loader
		expErr error
	}
	specs := []spec{
		{
			descr:  "bad magic",
			mutate: func(b []byte) []byte {
				b[0] = 'X'
				return b
			},
			expErr: ErrCacheCorrupt,
		},
		{
			descr:  "short header",
			mutate: func(b []byte) []byte { return b[:cacheHeaderSize-1] },
			expErr: ErrCacheCorrupt,
		},
		{
			descr:  "version mismatch",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[4:], cacheVersion+1)
				return b
			},
			expErr: ErrCacheStale,
		},
		{
			descr:  "leaf threshold mismatch",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[16:], 2)
				return b
			},
			expErr: ErrCacheStale,
		},
		{
			descr:  "different mesh",
			loader: otherMesh,
			expErr: ErrCacheStale,
		},
		{
			descr:  "truncated payload",
			mutate: func(b []byte) []byte { return b[:len(b)-nodeRecordSize/2] },
			expErr: ErrCacheCorrupt,
		},
		{
			descr:  "negative node count",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[12:], 0xffffffff)
				return b
			},
			expErr: ErrCacheCorrupt,
		},
		{
			descr:  "root referencing itself",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[rootLeftOffset:], 0)
				return b
			},
			expErr: ErrCacheCorrupt,
		},
		{
			descr:  "child out of range",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[rootLeftOffset:], 1<<20)
				return b
			},
			expErr: ErrCacheCorrupt,
		},
	}

	for index, s := range specs {
		buf := append([]byte(nil), data...)
		if s.mutate != nil {
			buf = s.mutate(buf)
		}
		var loader Loader = mesh
		if s.loader != nil {
			loader = s.loader
		}

		opts := DefaultOptions()
		opts.UseCache = false
		opts.MaxTrianglesPerLeaf = 1
		loaded := New(opts)
		err := loaded.LoadCache(bytes.NewReader(buf), loader)
		if errors.Cause(err) != s.expErr {
			t.Fatalf("[spec %d: %s] expected error %v; got %v", index, s.descr, s.expErr, err)
		}
		if !loaded.IsEmpty() {
			t.Fatalf("[spec %d: %s] expected tree to be empty after a failed load", index, s.descr)
		}
	}
}

func newCachedTree(t *testing.T, loader Loader, maxTrisPerLeaf int, observer BuildObserver) *Tree {
	opts := DefaultOptions()
	opts.MaxTrianglesPerLeaf = maxTrisPerLeaf
	opts.Observer = observer

	tree := New(opts)
	if err := tree.Build(loader); err != nil {
		t.Fatal(err)
	}
	return tree
}

func expectStatuses(t *testing.T, observer *recordingObserver, exp ...string) {
	t.Helper()
	if len(observer.statuses) != len(exp) {
		t.Fatalf("expected status updates %v; got %v", exp, observer.statuses)
	}
	for i := range exp {
		if observer.statuses[i] != exp[i] {
			t.Fatalf("expected status update %d to be %q; got %q", i, exp[i], observer.statuses[i])
		}
	}
}

func TestCacheFile(t *testing.T) {
	dir := t.TempDir()
	mesh := newRandomMesh(22, 300, 10, 2)
	mesh.filename = filepath.Join(dir, "mesh.obj")
	cachePath := mesh.filename + CacheFileExtension

	observer := &recordingObserver{confirm: true}
	tree := newCachedTree(t, mesh, 4, observer)
	expectStatuses(t, observer, StatusLoadingCache, StatusProcessingGeometry, StatusBuildingTree, StatusCachingTree)
	if tree.Stats().FromCache {
		t.Fatal("expected first build not to use the cache")
	}
	if tree.CachePath(mesh) != cachePath {
		t.Fatalf("expected cache path to be %q; got %q", cachePath, tree.CachePath(mesh))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(cachePath) {
		t.Fatalf("expected cache dir to only contain %q; got %v", filepath.Base(cachePath), entries)
	}

	observer = &recordingObserver{confirm: true}
	cached := newCachedTree(t, mesh, 4, observer)
	expectStatuses(t, observer, StatusLoadingCache)
	if !cached.Stats().FromCache {
		t.Fatal("expected second build to use the cache")
	}
	if observer.asked != 0 {
		t.Fatal("expected observer not to be asked for confirmation when the cache is used")
	}
	if !bytes.Equal(serializeTree(t, cached, mesh), serializeTree(t, tree, mesh)) {
		t.Fatal("expected cached tree to be identical to the built tree")
	}
}

func TestCacheFileInvalidation(t *testing.T) {
	type spec struct {
		descr   string
		prepare func(mesh *testMesh, cachePath string)
		maxTris int
	}
	specs := []spec{
		{
			descr:   "different leaf threshold",
			prepare: func(*testMesh, string) {},
			maxTris: 8,
		},
		{
			descr: "modified mesh",
			prepare: func(mesh *testMesh, _ string) {
				mesh.positions[0] = mesh.positions[0].Add(types.XYZ(0.5, 0, 0))
			},
			maxTris: 4,
		},
		{
			descr: "truncated cache",
			prepare: func(_ *testMesh, cachePath string) {
				if err := os.Truncate(cachePath, cacheHeaderSize+10); err != nil {
					t.Fatal(err)
				}
			},
			maxTris: 4,
		},
		{
			descr: "garbage cache",
			prepare: func(_ *testMesh, cachePath string) {
				if err := os.WriteFile(cachePath, []byte("not a kd-tree"), 0644); err != nil {
					t.Fatal(err)
				}
			},
			maxTris: 4,
		},
	}

	for index, s := range specs {
		dir := t.TempDir()
		mesh := newRandomMesh(23, 200, 10, 2)
		mesh.filename = filepath.Join(dir, "mesh.obj")
		cachePath := mesh.filename + CacheFileExtension

		newCachedTree(t, mesh, 4, &recordingObserver{confirm: true})
		s.prepare(mesh, cachePath)

		observer := &recordingObserver{confirm: true}
		tree := newCachedTree(t, mesh, s.maxTris, observer)
		if tree.Stats().FromCache {
			t.Fatalf("[spec %d: %s] expected cache to be ignored", index, s.descr)
		}
		expectStatuses(t, observer, StatusLoadingCache, StatusProcessingGeometry, StatusBuildingTree, StatusCachingTree)

		// The rebuilt tree replaces the invalid cache
		observer = &recordingObserver{confirm: true}
		tree = newCachedTree(t, mesh, s.maxTris, observer)
		if !tree.Stats().FromCache {
			t.Fatalf("[spec %d: %s] expected the refreshed cache to be used", index, s.descr)
		}
	}
}

func TestCacheDeclined(t *testing.T) {
	dir := t.TempDir()
	mesh := newBoxMesh(types.Vec3{}, types.XYZ(1, 1, 1))
	mesh.filename = filepath.Join(dir, "box.obj")

	observer := &recordingObserver{confirm: false}
	newCachedTree(t, mesh, 2, observer)

	if observer.asked != 1 {
		t.Fatalf("expected observer to be asked for confirmation once; got %d", observer.asked)
	}
	expectStatuses(t, observer, StatusLoadingCache, StatusProcessingGeometry, StatusBuildingTree)

	if _, err := os.Stat(mesh.filename + CacheFileExtension); !os.IsNotExist(err) {
		t.Fatalf("expected no cache file to be written; got %v", err)
	}
}

func TestCachePathOverride(t *testing.T) {
	dir := t.TempDir()
	mesh := newBoxMesh(types.Vec3{}, types.XYZ(1, 1, 1))
	mesh.filename = filepath.Join(dir, "box.obj")
	override := filepath.Join(dir, "custom.cache")

	opts := DefaultOptions()
	opts.CachePath = override
	opts.Observer = &recordingObserver{confirm: true}
	tree := New(opts)
	if err := tree.Build(mesh); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(override); err != nil {
		t.Fatalf("expected cache to be written to %q; got %v", override, err)
	}

	// Loaders without a filename have no default cache location
	anon := &testMesh{}
	if path := New(DefaultOptions()).CachePath(anon); path != "" {
		t.Fatalf("expected empty cache path for an anonymous loader; got %q", path)
	}
}

func TestCacheWriteFailureDoesNotFailBuild(t *testing.T) {
	mesh := newBoxMesh(types.Vec3{}, types.XYZ(1, 1, 1))
	mesh.filename = filepath.Join(t.TempDir(), "missing-dir", "box.obj")

	tree := newCachedTree(t, mesh, 2, &recordingObserver{confirm: true})
	if tree.IsEmpty() {
		t.Fatal("expected tree to be built even though the cache could not be written")
	}
}
