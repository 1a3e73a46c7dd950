package images

import "time"

// Image is the stored record of one built image.
type Image struct {
	ID          string             `json:"id"`
	Tag         string             `json:"tag"`
	Base        string             `json:"base"`        // normalized base ref
	BaseDigest  string             `json:"base_digest"` // resolved base manifest digest
	Digest      string             `json:"digest"`      // manifest digest of this image
	SizeBytes   int64              `json:"size_bytes"`
	Entrypoint  []string           `json:"entrypoint,omitempty"` // interpreter + entrypoint file
	WorkingDir  string             `json:"working_dir,omitempty"`
	ExposedPort int                `json:"exposed_port,omitempty"` // declarative metadata only
	Packages    []InstalledPackage `json:"packages,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// InstalledPackage records one dependency baked into an image.
type InstalledPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
