// Package index abstracts the package index the dependency stage installs
// from. The index is an external read-only lookup service, injected so builds
// can run deterministically against an in-memory implementation.
package index

import (
	"context"
	"errors"
	"io"

	"github.com/kilnbuild/kiln/lib/manifest"
)

var (
	// ErrNotFound is returned when no artifact satisfies a manifest entry.
	ErrNotFound = errors.New("package not found in index")
	// ErrDigestMismatch is returned when fetched content does not match the
	// digest the index advertised.
	ErrDigestMismatch = errors.New("artifact digest mismatch")
)

// Artifact is one installable package version.
type Artifact struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`    // fetch location (HTTP index)
	Digest  string `json:"digest,omitempty"` // sha256:<hex> of the content, if known
}

// Index resolves manifest entries to artifacts and fetches their content.
type Index interface {
	// Resolve returns the best (highest) version satisfying the entry's
	// constraint. An unknown name or unsatisfiable constraint fails with
	// ErrNotFound.
	Resolve(ctx context.Context, entry manifest.Entry) (*Artifact, error)

	// Fetch opens the artifact content for reading. The caller closes it.
	Fetch(ctx context.Context, artifact *Artifact) (io.ReadCloser, error)
}
