package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/samber/lo"

	"github.com/kilnbuild/kiln/lib/descriptor"
	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/index"
	"github.com/kilnbuild/kiln/lib/logger"
)

// DefaultMaxContextSize caps how much context a single build may copy.
const DefaultMaxContextSize = 512 * datasize.MB

// Builder executes the build pipeline for one descriptor: resolve base,
// materialize context, install dependencies, record runtime metadata, then
// tag exactly one image in the store. Registry and package index are
// injected collaborators so builds can run against fakes.
type Builder struct {
	resolver       images.Resolver
	idx            index.Index
	store          images.Manager
	maxContextSize datasize.ByteSize
}

// NewBuilder creates a builder. maxContextSize of zero selects the default.
func NewBuilder(resolver images.Resolver, idx index.Index, store images.Manager, maxContextSize datasize.ByteSize) *Builder {
	if maxContextSize == 0 {
		maxContextSize = DefaultMaxContextSize
	}
	return &Builder{
		resolver:       resolver,
		idx:            idx,
		store:          store,
		maxContextSize: maxContextSize,
	}
}

// Build runs the pipeline. stagingDir holds per-stage scratch space and is
// the caller's to clean up. On any error nothing has been tagged.
func (b *Builder) Build(ctx context.Context, desc *descriptor.Descriptor, stagingDir string) (*images.Image, error) {
	log := logger.FromContext(ctx)

	ref, err := images.ParseRef(desc.Base)
	if err != nil {
		return nil, err
	}

	if note := desc.Deprecation(); note != "" {
		log.WarnContext(ctx, "descriptor pins an end-of-life base", "base", desc.Base, "note", note)
	}

	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	stages := []Stage{
		&baseStage{ref: ref, resolver: b.resolver},
		&contextStage{
			contextDir: desc.Context,
			workDir:    desc.WorkDir,
			manifest:   desc.Manifest,
			entrypoint: desc.Entrypoint,
			maxBytes:   int64(b.maxContextSize.Bytes()),
			stagingDir: filepath.Join(stagingDir, "context"),
		},
		&dependencyStage{
			idx:        b.idx,
			workDir:    desc.WorkDir,
			manifest:   desc.Manifest,
			stagingDir: filepath.Join(stagingDir, "dependencies"),
		},
		&metadataStage{
			workDir:    desc.WorkDir,
			expose:     desc.Expose,
			entrypoint: desc.LaunchCommand(),
		},
	}

	// Strictly sequential, fail-fast: stage N starts only after N-1
	// completed successfully.
	var current *Layer
	var deltas []v1.Layer
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
		}

		log.InfoContext(ctx, "stage starting", "stage", stage.Name())
		next, err := stage.Apply(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		if !next.Empty() {
			sealed, err := next.Seal()
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
			}
			deltas = append(deltas, sealed)
		}
		current = next
		log.InfoContext(ctx, "stage complete", "stage", stage.Name())
	}

	img, err := mutate.AppendLayers(current.Base, deltas...)
	if err != nil {
		return nil, fmt.Errorf("append layers: %w", err)
	}
	img, err = mutate.Config(img, current.Config)
	if err != nil {
		return nil, fmt.Errorf("apply config: %w", err)
	}

	meta := &images.Image{
		ID:          images.GenerateID(desc.Tag),
		Tag:         desc.Tag,
		Base:        ref.String(),
		BaseDigest:  current.BaseDigest,
		Entrypoint:  desc.LaunchCommand(),
		WorkingDir:  desc.WorkDir,
		ExposedPort: desc.Expose,
		Packages: lo.Map(current.Packages, func(p installedPackage, _ int) images.InstalledPackage {
			return images.InstalledPackage{Name: p.Name, Version: p.Version}
		}),
	}

	stored, err := b.store.Put(ctx, img, meta)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	log.InfoContext(ctx, "image tagged", "id", stored.ID, "digest", stored.Digest, "size_bytes", stored.SizeBytes)
	return stored, nil
}
