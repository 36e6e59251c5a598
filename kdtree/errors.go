package kdtree

import "errors"

var (
	ErrNilLoader    = errors.New("kdtree: nil loader")
	ErrCacheMiss    = errors.New("kdtree: no cached tree available")
	ErrCacheStale   = errors.New("kdtree: cached tree does not match the requested build")
	ErrCacheCorrupt = errors.New("kdtree: cached tree is corrupt")
)
