package images

import "errors"

var (
	// ErrNotFound is returned when an image is not in the store.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidName is returned for references that do not parse.
	ErrInvalidName = errors.New("invalid image name")
	// ErrResolution is returned when a reference cannot be resolved against
	// its registry (unknown repository or tag).
	ErrResolution = errors.New("base image resolution failed")
)
