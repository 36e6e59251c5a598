package kdtree

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/achilleasa/kdtracer/types"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Cache file layout (all fields little-endian):
//
//	header:
//	  [4]byte  magic "KDT1"
//	  uint32   format version
//	  int32    triangle count
//	  int32    node count
//	  int32    max triangles per leaf used for the build
//	  [32]byte blake2b-256 digest of the source mesh
//	triangle records (triangleRecordSize bytes each)
//	node records (nodeRecordSize bytes each)
const (
	cacheVersion uint32 = 1

	cacheHeaderSize    = 4 + 4 + 3*4 + blake2b.Size256
	triangleRecordSize = 38*4 + 2*4
	nodeRecordSize     = 6*4 + 5*4
)

var cacheMagic = [4]byte{'K', 'D', 'T', '1'}

type meshDigest [blake2b.Size256]byte

type cacheHeader struct {
	version      uint32
	numTriangles int32
	numNodes     int32
	maxLeafTris  int32
	digest       meshDigest
}

// Serialize the tree to w. The cache is bound to loader's mesh data; loading it
// back with a different mesh fails with ErrCacheStale.
func (t *Tree) WriteCache(w io.Writer, loader Loader) error {
	if loader == nil {
		return ErrNilLoader
	}
	return t.writeCache(w, digestMesh(loader))
}

// Replace the tree contents with a tree serialized by WriteCache. The cache is
// rejected if it was built with a different MaxTrianglesPerLeaf value or from
// a different mesh. The tree is left empty if loading fails.
func (t *Tree) LoadCache(r io.Reader, loader Loader) error {
	if loader == nil {
		return ErrNilLoader
	}
	if err := t.readCache(r, -1, digestMesh(loader)); err != nil {
		return err
	}
	t.stats = collectStats(t.triangles, t.nodes)
	t.stats.FromCache = true
	return nil
}

func (t *Tree) writeCacheFile(path string, digest meshDigest) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "kdtree: could not create cache file")
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err = t.writeCache(bw, digest); err == nil {
		err = bw.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "kdtree: could not write cache file %q", path)
	}

	return errors.Wrapf(os.Rename(tmp.Name(), path), "kdtree: could not move cache file to %q", path)
}

func (t *Tree) loadCacheFile(path string, digest meshDigest) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCacheMiss
		}
		return errors.Wrapf(err, "kdtree: could not open cache file %q", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "kdtree: could not stat cache file %q", path)
	}

	return t.readCache(bufio.NewReader(f), info.Size(), digest)
}

func (t *Tree) writeCache(w io.Writer, digest meshDigest) error {
	buf := make([]byte, cacheHeaderSize+len(t.triangles)*triangleRecordSize+len(t.nodes)*nodeRecordSize)
	enc := recordEncoder{buf: buf}

	enc.bytes(cacheMagic[:])
	enc.u32(cacheVersion)
	enc.i32(int32(len(t.triangles)))
	enc.i32(int32(len(t.nodes)))
	enc.i32(int32(t.opts.MaxTrianglesPerLeaf))
	enc.bytes(digest[:])

	for i := range t.triangles {
		enc.triangle(&t.triangles[i])
	}
	for i := range t.nodes {
		enc.node(&t.nodes[i])
	}

	_, err := w.Write(buf)
	return err
}

// Read a serialized tree. If size is not negative it must match the exact
// payload size implied by the header counts.
func (t *Tree) readCache(r io.Reader, size int64, digest meshDigest) error {
	t.triangles = nil
	t.nodes = nil

	headerBuf := make([]byte, cacheHeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return errors.Wrapf(ErrCacheCorrupt, "short header: %v", err)
	}

	dec := recordDecoder{buf: headerBuf}
	var magic [4]byte
	dec.bytes(magic[:])
	if magic != cacheMagic {
		return errors.Wrap(ErrCacheCorrupt, "bad magic")
	}

	var header cacheHeader
	header.version = dec.u32()
	header.numTriangles = dec.i32()
	header.numNodes = dec.i32()
	header.maxLeafTris = dec.i32()
	dec.bytes(header.digest[:])

	switch {
	case header.version != cacheVersion:
		return errors.Wrapf(ErrCacheStale, "format version %d; expected %d", header.version, cacheVersion)
	case int(header.maxLeafTris) != t.opts.MaxTrianglesPerLeaf:
		return errors.Wrapf(ErrCacheStale, "built with %d triangles per leaf; expected %d", header.maxLeafTris, t.opts.MaxTrianglesPerLeaf)
	case header.digest != digest:
		return errors.Wrap(ErrCacheStale, "mesh contents have changed")
	case header.numTriangles < 0 || header.numNodes < 0:
		return errors.Wrapf(ErrCacheCorrupt, "invalid record counts %d/%d", header.numTriangles, header.numNodes)
	}

	bodySize := int64(header.numTriangles)*triangleRecordSize + int64(header.numNodes)*nodeRecordSize
	if size >= 0 && size != cacheHeaderSize+bodySize {
		return errors.Wrapf(ErrCacheCorrupt, "expected %d bytes; file contains %d", cacheHeaderSize+bodySize, size)
	}

	// Read through a limited reader so that bogus counts in a stream of
	// unknown size cannot trigger huge allocations.
	body, err := io.ReadAll(io.LimitReader(r, bodySize))
	if err != nil {
		return errors.Wrapf(ErrCacheCorrupt, "could not read payload: %v", err)
	}
	if int64(len(body)) != bodySize {
		return errors.Wrapf(ErrCacheCorrupt, "short payload: got %d bytes; expected %d", len(body), bodySize)
	}

	dec = recordDecoder{buf: body}
	triangles := make([]Triangle, header.numTriangles)
	for i := range triangles {
		dec.triangle(&triangles[i])
	}
	nodes := make([]Node, header.numNodes)
	for i := range nodes {
		dec.node(&nodes[i])
	}

	if err := validateNodes(nodes, len(triangles)); err != nil {
		return err
	}

	t.triangles = triangles
	t.nodes = nodes
	return nil
}

// Ensure that node triangle ranges and child references are within bounds so
// that a damaged cache cannot trigger out of bounds accesses while tracing.
func validateNodes(nodes []Node, numTriangles int) error {
	for i := range nodes {
		n := &nodes[i]

		// Children are always stored after their parent; this also rules out
		// the root being referenced as a child and reference cycles.
		validChild := func(index NodeIndex) bool {
			return index == NoChild || (int(index) > i && int(index) < len(nodes))
		}

		switch {
		case n.StartTriangle < 0 || n.NumTriangles < 0 || int(n.StartTriangle)+int(n.NumTriangles) > numTriangles:
			return errors.Wrapf(ErrCacheCorrupt, "node %d: triangle range [%d, +%d) out of bounds", i, n.StartTriangle, n.NumTriangles)
		case !validChild(n.Left) || !validChild(n.Right):
			return errors.Wrapf(ErrCacheCorrupt, "node %d: invalid child reference %d/%d", i, n.Left, n.Right)
		case n.Axis > 2:
			return errors.Wrapf(ErrCacheCorrupt, "node %d: invalid split axis %d", i, n.Axis)
		}
	}
	return nil
}

// Hash the loader triangle data so that a cache built from a different mesh
// is never used.
func digestMesh(loader Loader) meshDigest {
	h, _ := blake2b.New256(nil)

	numTris := loader.NumTriangles()
	// positions, uvs, normals, presence flags and material
	buf := make([]byte, (9+6+9+6+1)*4)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(numTris))
	h.Write(countBuf[:])

	for i := 0; i < numTris; i++ {
		indices := loader.Triangle(i)
		enc := recordEncoder{buf: buf}
		for j := 0; j < 3; j++ {
			enc.vec3(loader.VertexPos(indices.Pos[j]))
		}
		for j := 0; j < 3; j++ {
			uv, ok := loader.VertexUV(indices.UV[j])
			enc.vec2(uv)
			enc.flag(ok)
		}
		for j := 0; j < 3; j++ {
			n, ok := loader.VertexNormal(indices.Normal[j])
			enc.vec3(n)
			enc.flag(ok)
		}
		enc.i32(int32(indices.Material))
		h.Write(buf)
	}

	var digest meshDigest
	copy(digest[:], h.Sum(nil))
	return digest
}

type recordEncoder struct {
	buf []byte
	off int
}

func (e *recordEncoder) bytes(b []byte) {
	e.off += copy(e.buf[e.off:], b)
}

func (e *recordEncoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[e.off:], v)
	e.off += 4
}

func (e *recordEncoder) i32(v int32) {
	e.u32(uint32(v))
}

func (e *recordEncoder) f32(v float32) {
	e.u32(math.Float32bits(v))
}

func (e *recordEncoder) flag(v bool) {
	if v {
		e.u32(1)
	} else {
		e.u32(0)
	}
}

func (e *recordEncoder) vec2(v types.Vec2) {
	e.f32(v[0])
	e.f32(v[1])
}

func (e *recordEncoder) vec3(v types.Vec3) {
	e.f32(v[0])
	e.f32(v[1])
	e.f32(v[2])
}

func (e *recordEncoder) triangle(t *Triangle) {
	for _, p := range t.Pos {
		e.vec3(p)
	}
	e.vec3(t.N)
	e.f32(t.D)
	e.vec3(t.V0)
	e.vec3(t.V1)
	e.f32(t.Dot00)
	e.f32(t.Dot01)
	e.f32(t.Dot11)
	e.f32(t.InvDenom)
	for _, uv := range t.UV {
		e.vec2(uv)
	}
	for _, n := range t.Normals {
		e.vec3(n)
	}
	e.i32(t.Material)
	e.i32(t.ID)
}

func (e *recordEncoder) node(n *Node) {
	e.vec3(n.Min)
	e.vec3(n.Max)
	e.u32(uint32(n.Axis))
	e.i32(n.StartTriangle)
	e.i32(n.NumTriangles)
	e.i32(int32(n.Left))
	e.i32(int32(n.Right))
}

type recordDecoder struct {
	buf []byte
	off int
}

func (d *recordDecoder) bytes(b []byte) {
	d.off += copy(b, d.buf[d.off:])
}

func (d *recordDecoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *recordDecoder) i32() int32 {
	return int32(d.u32())
}

func (d *recordDecoder) f32() float32 {
	return math.Float32frombits(d.u32())
}

func (d *recordDecoder) vec2() types.Vec2 {
	return types.Vec2{d.f32(), d.f32()}
}

func (d *recordDecoder) vec3() types.Vec3 {
	return types.Vec3{d.f32(), d.f32(), d.f32()}
}

func (d *recordDecoder) triangle(t *Triangle) {
	for i := range t.Pos {
		t.Pos[i] = d.vec3()
	}
	t.N = d.vec3()
	t.D = d.f32()
	t.V0 = d.vec3()
	t.V1 = d.vec3()
	t.Dot00 = d.f32()
	t.Dot01 = d.f32()
	t.Dot11 = d.f32()
	t.InvDenom = d.f32()
	for i := range t.UV {
		t.UV[i] = d.vec2()
	}
	for i := range t.Normals {
		t.Normals[i] = d.vec3()
	}
	t.Material = d.i32()
	t.ID = d.i32()
}

func (d *recordDecoder) node(n *Node) {
	n.Min = d.vec3()
	n.Max = d.vec3()
	axis := d.u32()
	if axis > math.MaxUint8 {
		axis = math.MaxUint8
	}
	n.Axis = uint8(axis)
	n.StartTriangle = d.i32()
	n.NumTriangles = d.i32()
	n.Left = NodeIndex(d.i32())
	n.Right = NodeIndex(d.i32())
}
