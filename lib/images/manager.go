// Package images stores built images in a shared OCI layout and resolves
// base image references against external registries.
package images

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/match"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kilnbuild/kiln/lib/paths"
)

// Manager handles built image lifecycle operations.
type Manager interface {
	List(ctx context.Context) ([]*Image, error)
	Get(ctx context.Context, id string) (*Image, error)
	Delete(ctx context.Context, id string) error

	// Put stores a built image under meta.ID, superseding any previous image
	// with that ID. The metadata write is last: an interrupted Put never
	// leaves a tagged image behind.
	Put(ctx context.Context, img v1.Image, meta *Image) (*Image, error)

	// Open returns the stored image for reading (launch, registry serving).
	Open(ctx context.Context, id string) (v1.Image, error)
}

type manager struct {
	paths *paths.Paths
}

// NewManager creates an image manager rooted at the given data directory.
func NewManager(p *paths.Paths) Manager {
	return &manager{paths: p}
}

func (m *manager) List(ctx context.Context) ([]*Image, error) {
	metas, err := listMetadata(m.paths)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	return metas, nil
}

func (m *manager) Get(ctx context.Context, id string) (*Image, error) {
	return readMetadata(m.paths, id)
}

func (m *manager) Put(ctx context.Context, img v1.Image, meta *Image) (*Image, error) {
	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("image digest: %w", err)
	}

	size, err := imageSize(img)
	if err != nil {
		return nil, fmt.Errorf("image size: %w", err)
	}

	lp, err := openLayout(m.paths)
	if err != nil {
		return nil, err
	}

	// ReplaceImage both appends the new manifest and drops any prior index
	// entry carrying the same ref name, so rebuilds supersede in one step.
	err = lp.ReplaceImage(img, match.Name(meta.ID), layout.WithAnnotations(map[string]string{
		ispec.AnnotationRefName: meta.ID,
	}))
	if err != nil {
		return nil, fmt.Errorf("append to layout: %w", err)
	}

	meta.Digest = digest.String()
	meta.SizeBytes = size
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	if err := writeMetadata(m.paths, meta); err != nil {
		// Untag the layout entry so no half-stored image is visible.
		_ = lp.RemoveDescriptors(match.Name(meta.ID))
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	return meta, nil
}

func (m *manager) Open(ctx context.Context, id string) (v1.Image, error) {
	if _, err := readMetadata(m.paths, id); err != nil {
		return nil, err
	}

	lp, err := openLayout(m.paths)
	if err != nil {
		return nil, err
	}

	idx, err := lp.ImageIndex()
	if err != nil {
		return nil, fmt.Errorf("read layout index: %w", err)
	}
	manifest, err := idx.IndexManifest()
	if err != nil {
		return nil, fmt.Errorf("read index manifest: %w", err)
	}

	for _, desc := range manifest.Manifests {
		if desc.Annotations[ispec.AnnotationRefName] != id {
			continue
		}
		img, err := lp.Image(desc.Digest)
		if err != nil {
			return nil, fmt.Errorf("open image %s: %w", id, err)
		}
		return img, nil
	}

	return nil, ErrNotFound
}

func (m *manager) Delete(ctx context.Context, id string) error {
	if err := deleteMetadata(m.paths, id); err != nil {
		return err
	}

	lp, err := openLayout(m.paths)
	if err != nil {
		return err
	}
	// Blobs stay in the shared layout; they act as a cache for future builds.
	if err := lp.RemoveDescriptors(match.Name(id)); err != nil {
		return fmt.Errorf("remove layout entry: %w", err)
	}

	return nil
}

// imageSize sums the compressed layer sizes plus config and manifest.
func imageSize(img v1.Image) (int64, error) {
	manifest, err := img.Manifest()
	if err != nil {
		return 0, err
	}

	size := manifest.Config.Size
	for _, l := range manifest.Layers {
		size += l.Size
	}
	return size, nil
}

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// GenerateID creates a store ID from an image tag.
// Example: "magiccap-api" -> "img-magiccap-api".
func GenerateID(tag string) string {
	sanitized := idSanitizer.ReplaceAllString(tag, "-")
	sanitized = strings.Trim(sanitized, "-")
	return "img-" + strings.ToLower(sanitized)
}
