package images

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// NormalizedRef is a validated and normalized image reference, either tagged
// ("docker.io/library/python:3.7-alpine") or pinned by digest
// ("docker.io/library/python@sha256:...").
type NormalizedRef struct {
	raw        string
	repository string
	tag        string // empty for digest refs
	digest     string // empty for tag refs
}

// ParseRef validates and normalizes a user-provided image reference, applying
// docker.io/library and :latest defaults.
func ParseRef(s string) (*NormalizedRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidName, s, err)
	}

	ref := &NormalizedRef{
		repository: reference.Domain(named) + "/" + reference.Path(named),
	}

	if canonical, ok := named.(reference.Canonical); ok {
		ref.digest = canonical.Digest().String()
		ref.raw = canonical.String()
		return ref, nil
	}

	tagged := reference.TagNameOnly(named)
	if t, ok := tagged.(reference.Tagged); ok {
		ref.tag = t.Tag()
	}
	ref.raw = tagged.String()

	return ref, nil
}

// String returns the full normalized reference.
func (r *NormalizedRef) String() string { return r.raw }

// Repository returns the repository path without tag or digest.
func (r *NormalizedRef) Repository() string { return r.repository }

// Tag returns the tag for tagged references, "" for digest references.
func (r *NormalizedRef) Tag() string { return r.tag }

// IsDigest reports whether the reference pins a digest.
func (r *NormalizedRef) IsDigest() bool { return r.digest != "" }

// Digest returns the pinned digest, "" for tagged references.
func (r *NormalizedRef) Digest() string { return r.digest }

// ResolvedRef is a NormalizedRef carrying the manifest digest the registry
// served for it. The digest is always populated.
type ResolvedRef struct {
	normalized *NormalizedRef
	digest     string
}

// NewResolvedRef pairs a normalized reference with its resolved digest.
func NewResolvedRef(normalized *NormalizedRef, digest string) *ResolvedRef {
	return &ResolvedRef{normalized: normalized, digest: digest}
}

// String returns the normalized reference in its original form.
func (r *ResolvedRef) String() string { return r.normalized.String() }

// Repository returns the repository path.
func (r *ResolvedRef) Repository() string { return r.normalized.Repository() }

// Digest returns the resolved manifest digest.
func (r *ResolvedRef) Digest() string { return r.digest }

// DigestHex returns the hex portion of the digest without the algorithm prefix.
func (r *ResolvedRef) DigestHex() string {
	parts := strings.SplitN(r.digest, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Canonical returns the repository pinned to the resolved digest.
func (r *ResolvedRef) Canonical() string {
	return r.Repository() + "@" + r.digest
}
