// Package paths centralizes the on-disk layout of the kiln data directory.
package paths

import "path/filepath"

// Paths resolves locations inside the data directory.
//
// Layout:
//
//	<data>/oci/                shared OCI layout (blobs deduplicated across images)
//	<data>/images/<id>/        per-image metadata
//	<data>/builds/<id>/        per-build metadata, staging and logs
type Paths struct {
	dataDir string
}

// New creates a Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// OCILayout returns the shared OCI layout directory.
func (p *Paths) OCILayout() string {
	return filepath.Join(p.dataDir, "oci")
}

// OCIBlob returns the path of a blob in the shared layout by its sha256 hex.
func (p *Paths) OCIBlob(digestHex string) string {
	return filepath.Join(p.OCILayout(), "blobs", "sha256", digestHex)
}

// OCIIndex returns the path of the shared layout's index.json.
func (p *Paths) OCIIndex() string {
	return filepath.Join(p.OCILayout(), "index.json")
}

// ImageDir returns the directory holding metadata for one image.
func (p *Paths) ImageDir(id string) string {
	return filepath.Join(p.dataDir, "images", id)
}

// ImageMetadata returns the metadata file for one image.
func (p *Paths) ImageMetadata(id string) string {
	return filepath.Join(p.ImageDir(id), "metadata.json")
}

// ImagesDir returns the directory holding all image metadata directories.
func (p *Paths) ImagesDir() string {
	return filepath.Join(p.dataDir, "images")
}

// BuildDir returns the directory for one build job.
func (p *Paths) BuildDir(id string) string {
	return filepath.Join(p.dataDir, "builds", id)
}

// BuildMetadata returns the metadata file for one build job.
func (p *Paths) BuildMetadata(id string) string {
	return filepath.Join(p.BuildDir(id), "metadata.json")
}

// BuildLog returns the log file for one build job.
func (p *Paths) BuildLog(id string) string {
	return filepath.Join(p.BuildDir(id), "build.log")
}

// BuildStaging returns the staging directory where a build assembles layers.
func (p *Paths) BuildStaging(id string) string {
	return filepath.Join(p.BuildDir(id), "staging")
}

// BuildsDir returns the directory holding all build job directories.
func (p *Paths) BuildsDir() string {
	return filepath.Join(p.dataDir, "builds")
}

// RuntimeDir returns the directory where rootfs trees are unpacked for launch.
func (p *Paths) RuntimeDir(id string) string {
	return filepath.Join(p.dataDir, "runtime", id)
}
