package build

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kilnbuild/kiln/lib/paths"
)

// writeMetadata persists build job metadata atomically via temp file + rename.
func writeMetadata(p *paths.Paths, b *Build) error {
	dir := p.BuildDir(b.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tempPath := p.BuildMetadata(b.ID) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}

	if err := os.Rename(tempPath, p.BuildMetadata(b.ID)); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename metadata: %w", err)
	}

	return nil
}

// readMetadata reads build job metadata from disk.
func readMetadata(p *paths.Paths, id string) (*Build, error) {
	data, err := os.ReadFile(p.BuildMetadata(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var b Build
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &b, nil
}

// listMetadata lists all build jobs by scanning the builds directory.
func listMetadata(p *paths.Paths) ([]*Build, error) {
	entries, err := os.ReadDir(p.BuildsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*Build{}, nil
		}
		return nil, fmt.Errorf("read builds directory: %w", err)
	}

	var builds []*Build
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		b, err := readMetadata(p, entry.Name())
		if err != nil {
			continue
		}
		builds = append(builds, b)
	}

	return builds, nil
}
