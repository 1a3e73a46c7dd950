package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Masterminds/semver"

	"github.com/kilnbuild/kiln/lib/manifest"
)

// MemIndex is an in-memory package index. It backs hermetic tests and
// air-gapped builds where a fixed artifact set is preloaded.
type MemIndex struct {
	mu        sync.RWMutex
	artifacts map[string][]memArtifact // keyed by normalized name
}

type memArtifact struct {
	version *semver.Version
	data    []byte
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{artifacts: map[string][]memArtifact{}}
}

// Add registers an artifact version. Invalid versions are rejected.
func (m *MemIndex) Add(name, version string, data []byte) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q for %s: %w", version, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[name] = append(m.artifacts[name], memArtifact{version: v, data: data})
	return nil
}

func (m *MemIndex) Resolve(ctx context.Context, entry manifest.Entry) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := m.artifacts[entry.Name]
	var matching []memArtifact
	for _, c := range candidates {
		if entry.Matches(c.version.String()) {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entry.String())
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].version.LessThan(matching[j].version)
	})
	best := matching[len(matching)-1]

	sum := sha256.Sum256(best.data)
	return &Artifact{
		Name:    entry.Name,
		Version: best.version.String(),
		Digest:  "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

func (m *MemIndex) Fetch(ctx context.Context, artifact *Artifact) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.artifacts[artifact.Name] {
		if c.version.String() == artifact.Version {
			return io.NopCloser(bytes.NewReader(c.data)), nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, artifact.Name, artifact.Version)
}
