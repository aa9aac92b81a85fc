package dedup

import (
	"errors"
	"fmt"
)

// Sentinel errors for package dedup.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Backing storage errors
	ErrBackingIO = errors.New("backing i/o failed")

	// Index errors
	ErrOutOfMemory = errors.New("index allocation cannot be satisfied")

	// Read protocol errors
	ErrMissingSidecar = errors.New("no digest sidecar for backing file")
	ErrBrokenRedirect = errors.New("placeholder digest has no canonical location")
	ErrCorruptSidecar = errors.New("sidecar does not contain a valid digest")

	// Configuration errors
	ErrUnknownDigest      = errors.New("unknown digest algorithm")
	ErrUnknownTransform   = errors.New("unknown at-rest transform")
	ErrUnknownGranularity = errors.New("unknown dedup granularity")
)

// backingErr tags a collaborator failure with ErrBackingIO while keeping the
// underlying cause reachable through errors.Is and errors.As.
func backingErr(op string, loc Location, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBackingIO, op, loc, err)
}
