package build

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/logger"
)

// Stage is one step of the build pipeline. Stages run strictly sequentially;
// each consumes the layer produced by its predecessor and returns a new one.
// The first error aborts the pipeline.
type Stage interface {
	Name() string
	Apply(ctx context.Context, prev *Layer) (*Layer, error)
}

// baseStage resolves and fetches the base image, seeding the pipeline with
// the base configuration.
type baseStage struct {
	ref      *images.NormalizedRef
	resolver images.Resolver
}

func (s *baseStage) Name() string { return "base" }

func (s *baseStage) Apply(ctx context.Context, prev *Layer) (*Layer, error) {
	resolved, err := s.resolver.Resolve(ctx, s.ref)
	if err != nil {
		return nil, err
	}

	img, err := s.resolver.Fetch(ctx, resolved)
	if err != nil {
		return nil, err
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("base config: %w", err)
	}

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "base image resolved", "ref", s.ref.String(), "digest", resolved.Digest())

	layer := NewLayer("", prev)
	layer.Base = img
	layer.BaseDigest = resolved.Digest()
	layer.Config = cfgFile.Config
	return layer, nil
}

// metadataStage records the run-time contract: exposed port, working
// directory and the launch command. Configuration only, no filesystem delta.
// The exposed port is declarative metadata; nothing binds or checks it.
type metadataStage struct {
	workDir    string
	expose     int
	entrypoint []string
}

func (s *metadataStage) Name() string { return "metadata" }

func (s *metadataStage) Apply(ctx context.Context, prev *Layer) (*Layer, error) {
	layer := NewLayer("", prev)

	cfg := layer.Config
	cfg.WorkingDir = s.workDir
	cfg.Entrypoint = s.entrypoint
	cfg.Cmd = nil
	if s.expose > 0 {
		if cfg.ExposedPorts == nil {
			cfg.ExposedPorts = map[string]struct{}{}
		}
		cfg.ExposedPorts[strconv.Itoa(s.expose)+"/tcp"] = struct{}{}
	}
	layer.Config = cfg

	return layer, nil
}
