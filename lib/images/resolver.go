package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// Resolver looks up references against their registry. The registry is an
// external read-only service, so the build pipeline takes this as an injected
// collaborator rather than reaching for the network itself.
type Resolver interface {
	// Resolve returns the manifest digest the registry serves for ref.
	// Unknown repositories or tags fail with ErrResolution.
	Resolve(ctx context.Context, ref *NormalizedRef) (*ResolvedRef, error)

	// Fetch pulls the image a resolved reference points at.
	Fetch(ctx context.Context, ref *ResolvedRef) (v1.Image, error)
}

type registryResolver struct {
	nameOpts []name.Option
}

// ResolverOption configures the registry resolver.
type ResolverOption func(*registryResolver)

// WithInsecure allows plain-HTTP registries (local mirrors, tests).
func WithInsecure() ResolverOption {
	return func(r *registryResolver) {
		r.nameOpts = append(r.nameOpts, name.Insecure)
	}
}

// NewResolver creates a resolver backed by the registries named in the
// references it is given.
func NewResolver(opts ...ResolverOption) Resolver {
	r := &registryResolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *registryResolver) Resolve(ctx context.Context, ref *NormalizedRef) (*ResolvedRef, error) {
	// Digest references carry their own resolution.
	if ref.IsDigest() {
		return NewResolvedRef(ref, ref.Digest()), nil
	}

	parsed, err := name.ParseReference(ref.String(), r.nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidName, ref.String(), err)
	}

	desc, err := remote.Head(parsed, remote.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrResolution, ref.String())
		}
		return nil, fmt.Errorf("resolve %s: %w", ref.String(), err)
	}

	return NewResolvedRef(ref, desc.Digest.String()), nil
}

func (r *registryResolver) Fetch(ctx context.Context, ref *ResolvedRef) (v1.Image, error) {
	parsed, err := name.ParseReference(ref.Canonical(), r.nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidName, ref.Canonical(), err)
	}

	img, err := remote.Image(parsed, remote.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrResolution, ref.Canonical())
		}
		return nil, fmt.Errorf("fetch %s: %w", ref.Canonical(), err)
	}

	return img, nil
}

// isNotFound reports whether the registry answered that the manifest or
// repository does not exist.
func isNotFound(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode == http.StatusNotFound
	}
	return false
}
