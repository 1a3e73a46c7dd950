// Package providers constructs the application's components. The dependency
// graph is flat enough to wire by hand.
package providers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kilnbuild/kiln/cmd/api/config"
	"github.com/kilnbuild/kiln/lib/build"
	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/index"
	"github.com/kilnbuild/kiln/lib/logger"
	"github.com/kilnbuild/kiln/lib/paths"
	"github.com/kilnbuild/kiln/lib/registry"
	"go.opentelemetry.io/otel/metric"
)

// ProvideContext provides a base context.
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideLogger provides a structured logger.
func ProvideLogger() *slog.Logger {
	return logger.New(slog.LevelInfo)
}

// ProvideConfig provides the application configuration.
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the data directory layout.
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideImageManager provides the image store.
func ProvideImageManager(p *paths.Paths) images.Manager {
	return images.NewManager(p)
}

// ProvideResolver provides the base image resolver.
func ProvideResolver(cfg *config.Config) images.Resolver {
	var opts []images.ResolverOption
	if cfg.InsecureRegistries {
		opts = append(opts, images.WithInsecure())
	}
	return images.NewResolver(opts...)
}

// ProvideIndex provides the package index collaborator.
func ProvideIndex(cfg *config.Config) index.Index {
	if cfg.IndexURL == "" {
		// Air-gapped default: an empty index. Builds with dependencies fail
		// with a resolution error, empty manifests still build.
		return index.NewMemIndex()
	}
	return index.NewHTTPIndex(cfg.IndexURL, http.DefaultClient)
}

// ProvideBuilder provides the build pipeline executor.
func ProvideBuilder(cfg *config.Config, resolver images.Resolver, idx index.Index, store images.Manager) *build.Builder {
	return build.NewBuilder(resolver, idx, store, cfg.MaxContextSize)
}

// ProvideBuildManager provides the build job manager.
func ProvideBuildManager(cfg *config.Config, p *paths.Paths, builder *build.Builder, log *slog.Logger, meter metric.Meter) (build.Manager, error) {
	var metrics *build.Metrics
	if meter != nil {
		var err error
		metrics, err = build.NewMetrics(meter)
		if err != nil {
			return nil, err
		}
	}
	return build.NewManager(p, build.Config{MaxConcurrentBuilds: cfg.MaxConcurrentBuilds}, builder, log, metrics), nil
}

// ProvideRegistry provides the distribution surface over the image store.
func ProvideRegistry(p *paths.Paths, store images.Manager) *registry.Registry {
	return registry.New(p, store)
}
