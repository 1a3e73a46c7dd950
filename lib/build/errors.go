package build

import "errors"

var (
	// ErrNotFound is returned when a build job does not exist.
	ErrNotFound = errors.New("build not found")
	// ErrContext is returned when the build context cannot be read or is
	// missing its dependency manifest.
	ErrContext = errors.New("build context error")
	// ErrDependencyResolution is returned when a manifest entry cannot be
	// resolved or installed. The build aborts; nothing is tagged.
	ErrDependencyResolution = errors.New("dependency resolution failed")
	// ErrCanceled is returned for builds canceled before completion.
	ErrCanceled = errors.New("build canceled")
	// ErrNotCancelable is returned when canceling a finished build.
	ErrNotCancelable = errors.New("build already finished")
)
