package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/kilnbuild/kiln/lib/index"
	"github.com/kilnbuild/kiln/lib/logger"
	"github.com/kilnbuild/kiln/lib/manifest"
)

// packagesDir is where installed dependencies live inside the image.
const packagesDir = "/usr/local/lib/kiln/packages"

// fetchConcurrency bounds parallel artifact downloads within one build.
const fetchConcurrency = 4

// dependencyStage reads the manifest from the copied context, resolves every
// entry against the injected package index and installs the artifacts into a
// new layer. Any entry that cannot be resolved or installed aborts the build;
// no partial image is ever tagged.
type dependencyStage struct {
	idx        index.Index
	workDir    string
	manifest   string
	stagingDir string
}

func (s *dependencyStage) Name() string { return "dependencies" }

func (s *dependencyStage) Apply(ctx context.Context, prev *Layer) (*Layer, error) {
	manifestPath, err := prev.Path(path.Join(s.workDir, s.manifest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContext, err)
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open manifest: %v", ErrContext, err)
	}
	entries, err := manifest.Parse(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyResolution, err)
	}

	log := logger.FromContext(ctx)
	layer := NewLayer(s.stagingDir, prev)

	// Resolve sequentially so failures are reported in manifest order.
	artifacts := make([]*index.Artifact, len(entries))
	for i, entry := range entries {
		a, err := s.idx.Resolve(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDependencyResolution, entry.String(), err)
		}
		artifacts[i] = a
		log.InfoContext(ctx, "dependency resolved", "package", a.Name, "version", a.Version)
	}

	// Installs write disjoint directories, so fetching in parallel cannot
	// change the resulting layer content.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, artifact := range artifacts {
		g.Go(func() error {
			if err := s.install(gctx, layer, artifact); err != nil {
				return fmt.Errorf("%w: %s %s: %v", ErrDependencyResolution, artifact.Name, artifact.Version, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, a := range artifacts {
		layer.Packages = append(layer.Packages, installedPackage{Name: a.Name, Version: a.Version})
	}

	return layer, nil
}

// install materializes one artifact under packagesDir along with a record
// file describing what was installed.
func (s *dependencyStage) install(ctx context.Context, layer *Layer, artifact *index.Artifact) error {
	rc, err := s.idx.Fetch(ctx, artifact)
	if err != nil {
		return err
	}
	defer rc.Close()

	dir, err := layer.Path(path.Join(packagesDir, artifact.Name+"-"+artifact.Version))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}

	out, err := os.OpenFile(filepath.Join(dir, artifact.Name+".pkg"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create package file: %w", err)
	}
	_, err = io.Copy(out, rc)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write package: %w", err)
	}

	record, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "record.json"), record, 0644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	return nil
}
