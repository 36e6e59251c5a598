package kdtree

import "github.com/achilleasa/kdtracer/log"

// The BuildObserver interface receives coarse build progress updates and is
// asked for permission before a freshly built tree gets cached.
type BuildObserver interface {
	// Report a build status change.
	Status(msg string)

	// Return true if the built tree should be written to the cache.
	ConfirmCache() bool
}

// Build status messages.
const (
	StatusLoadingCache       = "Loading cached KD-tree"
	StatusProcessingGeometry = "Processing geometry"
	StatusBuildingTree       = "Building KD-tree"
	StatusCachingTree        = "Caching KD-tree"
)

var defaultObserver = NewLogObserver(log.New("kd-tree"))

type logObserver struct {
	logger log.Logger
}

// Create an observer that logs status updates and always allows caching.
func NewLogObserver(logger log.Logger) BuildObserver {
	return &logObserver{logger: logger}
}

func (o *logObserver) Status(msg string) {
	o.logger.Info(msg)
}

func (o *logObserver) ConfirmCache() bool {
	return true
}
