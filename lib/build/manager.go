// Package build runs bootstrap descriptors through an ordered stage pipeline
// and manages asynchronous build jobs.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"golang.org/x/sync/semaphore"

	"github.com/kilnbuild/kiln/lib/descriptor"
	"github.com/kilnbuild/kiln/lib/logger"
	"github.com/kilnbuild/kiln/lib/paths"
)

// Manager runs build jobs.
type Manager interface {
	// CreateBuild accepts a descriptor and starts a build job in the
	// background.
	CreateBuild(ctx context.Context, desc *descriptor.Descriptor) (*Build, error)

	// GetBuild returns a build by ID.
	GetBuild(ctx context.Context, id string) (*Build, error)

	// ListBuilds returns all known builds.
	ListBuilds(ctx context.Context) ([]*Build, error)

	// CancelBuild cancels a pending or running build.
	CancelBuild(ctx context.Context, id string) error

	// GetBuildLogs returns the log output of a build.
	GetBuildLogs(ctx context.Context, id string) ([]byte, error)

	// RecoverInterruptedBuilds marks builds that were in flight during a
	// previous run as failed. Called once at startup.
	RecoverInterruptedBuilds()
}

// Config holds build manager configuration.
type Config struct {
	// MaxConcurrentBuilds bounds how many builds run at once.
	MaxConcurrentBuilds int
}

// DefaultConfig returns the default build manager configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrentBuilds: 2}
}

type manager struct {
	config  Config
	paths   *paths.Paths
	builder *Builder
	logger  *slog.Logger
	metrics *Metrics
	sem     *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewManager creates a build manager. meter may be nil to disable metrics.
func NewManager(p *paths.Paths, config Config, builder *Builder, log *slog.Logger, metrics *Metrics) Manager {
	if log == nil {
		log = slog.Default()
	}
	if config.MaxConcurrentBuilds <= 0 {
		config.MaxConcurrentBuilds = DefaultConfig().MaxConcurrentBuilds
	}

	m := &manager{
		config:  config,
		paths:   p,
		builder: builder,
		logger:  log,
		metrics: metrics,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrentBuilds)),
		cancels: map[string]context.CancelFunc{},
	}

	m.RecoverInterruptedBuilds()
	return m
}

func (m *manager) CreateBuild(ctx context.Context, desc *descriptor.Descriptor) (*Build, error) {
	id := cuid2.Generate()

	b := &Build{
		ID:         id,
		Status:     StatusPending,
		Descriptor: desc,
		CreatedAt:  time.Now().UTC(),
	}
	if err := writeMetadata(m.paths, b); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	// Detach from the request context; the job outlives the request.
	buildCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	go m.runBuild(buildCtx, b)

	m.logger.Info("build created", "id", id, "base", desc.Base, "tag", desc.Tag)
	return b, nil
}

func (m *manager) runBuild(ctx context.Context, b *Build) {
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.cancels[b.ID]; ok {
			cancel()
			delete(m.cancels, b.ID)
		}
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(ctx, b, "", fmt.Errorf("%w: %v", ErrCanceled, err))
		return
	}
	defer m.sem.Release(1)

	now := time.Now().UTC()
	b.Status = StatusRunning
	b.StartedAt = &now
	if err := writeMetadata(m.paths, b); err != nil {
		m.logger.Error("persist running status", "id", b.ID, "error", err)
	}

	// Build output goes to a per-build log file.
	logFile, err := os.OpenFile(m.paths.BuildLog(b.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		m.finish(ctx, b, "", fmt.Errorf("open build log: %w", err))
		return
	}
	defer logFile.Close()

	buildLog := slog.New(slog.NewJSONHandler(logFile, nil)).With("build_id", b.ID)
	ctx = logger.WithContext(ctx, buildLog)

	staging := m.paths.BuildStaging(b.ID)
	defer os.RemoveAll(staging)

	img, err := m.builder.Build(ctx, b.Descriptor, staging)
	if err != nil {
		buildLog.ErrorContext(ctx, "build failed", "error", err)
		m.finish(ctx, b, "", err)
		return
	}

	m.finish(ctx, b, img.ID, nil)
}

// finish records the terminal state of a build and emits metrics.
func (m *manager) finish(ctx context.Context, b *Build, imageID string, buildErr error) {
	now := time.Now().UTC()
	b.FinishedAt = &now

	switch {
	case buildErr == nil:
		b.Status = StatusSucceeded
		b.ImageID = imageID
	case ctx.Err() != nil:
		b.Status = StatusCanceled
		b.Error = ErrCanceled.Error()
	default:
		b.Status = StatusFailed
		b.Error = buildErr.Error()
	}

	if err := writeMetadata(m.paths, b); err != nil {
		m.logger.Error("persist final status", "id", b.ID, "error", err)
	}

	duration := time.Duration(0)
	if b.StartedAt != nil {
		duration = now.Sub(*b.StartedAt)
	}
	if m.metrics != nil {
		m.metrics.RecordBuild(context.WithoutCancel(ctx), b.Status, duration)
	}

	m.logger.Info("build finished", "id", b.ID, "status", b.Status, "duration", duration)
}

func (m *manager) GetBuild(ctx context.Context, id string) (*Build, error) {
	return readMetadata(m.paths, id)
}

func (m *manager) ListBuilds(ctx context.Context) ([]*Build, error) {
	return listMetadata(m.paths)
}

func (m *manager) CancelBuild(ctx context.Context, id string) error {
	b, err := readMetadata(m.paths, id)
	if err != nil {
		return err
	}
	if b.Status.Finished() {
		return ErrNotCancelable
	}

	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// No in-flight goroutine (e.g. process restarted); finalize directly.
	now := time.Now().UTC()
	b.Status = StatusCanceled
	b.Error = ErrCanceled.Error()
	b.FinishedAt = &now
	return writeMetadata(m.paths, b)
}

func (m *manager) GetBuildLogs(ctx context.Context, id string) ([]byte, error) {
	if _, err := readMetadata(m.paths, id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.paths.BuildLog(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("read build log: %w", err)
	}
	return data, nil
}

func (m *manager) RecoverInterruptedBuilds() {
	builds, err := listMetadata(m.paths)
	if err != nil {
		m.logger.Error("recover builds", "error", err)
		return
	}

	for _, b := range builds {
		if b.Status.Finished() {
			continue
		}
		now := time.Now().UTC()
		b.Status = StatusFailed
		b.Error = "interrupted by restart"
		b.FinishedAt = &now
		if err := writeMetadata(m.paths, b); err != nil {
			m.logger.Error("mark interrupted build", "id", b.ID, "error", err)
			continue
		}
		m.logger.Warn("marked interrupted build as failed", "id", b.ID)
	}
}
