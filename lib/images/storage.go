package images

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"

	"github.com/kilnbuild/kiln/lib/paths"
)

// writeMetadata writes image metadata atomically using temp file + rename.
// Writing this file is what tags an image: a build that dies before this
// point leaves no visible image.
func writeMetadata(p *paths.Paths, meta *Image) error {
	dir := p.ImageDir(meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tempPath := p.ImageMetadata(meta.ID) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}

	finalPath := p.ImageMetadata(meta.ID)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename metadata: %w", err)
	}

	return nil
}

// readMetadata reads image metadata from disk.
func readMetadata(p *paths.Paths, id string) (*Image, error) {
	data, err := os.ReadFile(p.ImageMetadata(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Image
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &meta, nil
}

// listMetadata lists all image metadata by scanning the images directory.
func listMetadata(p *paths.Paths) ([]*Image, error) {
	entries, err := os.ReadDir(p.ImagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*Image{}, nil
		}
		return nil, fmt.Errorf("read images directory: %w", err)
	}

	var metas []*Image
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := readMetadata(p, entry.Name())
		if err != nil {
			// Skip half-written entries rather than failing the listing.
			continue
		}
		metas = append(metas, meta)
	}

	return metas, nil
}

// deleteMetadata removes the metadata directory for an image.
func deleteMetadata(p *paths.Paths, id string) error {
	dir := p.ImageDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat image directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove image directory: %w", err)
	}

	return nil
}

// openLayout opens the shared OCI layout, creating it on first use. All
// images share one layout so identical blobs are stored once.
func openLayout(p *paths.Paths) (layout.Path, error) {
	lp, err := layout.FromPath(p.OCILayout())
	if err == nil {
		return lp, nil
	}

	lp, err = layout.Write(p.OCILayout(), empty.Index)
	if err != nil {
		return "", fmt.Errorf("create oci layout: %w", err)
	}
	return lp, nil
}
