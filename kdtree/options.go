package kdtree

const (
	// The default max number of triangles that can be stored in a leaf.
	DefaultMaxTrianglesPerLeaf = 8

	// The default max tree depth. Nodes at this depth become leaves
	// regardless of their triangle count.
	DefaultMaxDepth = 64

	// Extension appended to the loader filename to build the cache path.
	CacheFileExtension = ".kdtree"
)

// Options controls tree construction and caching.
type Options struct {
	// Ranges with this many triangles or fewer are not partitioned.
	MaxTrianglesPerLeaf int

	// Max recursion depth for the builder.
	MaxDepth int

	// Load the tree from (and store it to) a cache file.
	UseCache bool

	// Override the cache location. If empty, the cache path is generated by
	// appending CacheFileExtension to the loader filename.
	CachePath string

	// An optional observer for build status updates and cache confirmation.
	Observer BuildObserver
}

// Get the default tree options.
func DefaultOptions() Options {
	return Options{
		MaxTrianglesPerLeaf: DefaultMaxTrianglesPerLeaf,
		MaxDepth:            DefaultMaxDepth,
		UseCache:            true,
	}
}

// Replace unset fields with their defaults.
func (o Options) normalize() Options {
	if o.MaxTrianglesPerLeaf <= 0 {
		o.MaxTrianglesPerLeaf = DefaultMaxTrianglesPerLeaf
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Observer == nil {
		o.Observer = defaultObserver
	}
	return o
}
