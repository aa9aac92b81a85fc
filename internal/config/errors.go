package config

import "errors"

// Sentinel errors for package config.
var (
	// Loading errors
	ErrConfigRead  = errors.New("failed to read config file")
	ErrConfigParse = errors.New("failed to parse config file")

	// Validation errors
	ErrNoRoot        = errors.New("backing root is required")
	ErrNoMountpoint  = errors.New("mountpoint is required")
	ErrPathsOverlap  = errors.New("backing root and mountpoint overlap")
	ErrIndexCapacity = errors.New("index capacity out of range")
	ErrWorkers       = errors.New("worker count must not be negative")
	ErrLogLevel      = errors.New("unknown log level")
)
