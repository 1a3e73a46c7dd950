package build

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// Layer is the unit passed between pipeline stages: an immutable-once-sealed
// filesystem delta plus the image configuration as of this stage. A stage
// consumes its predecessor's layer and produces a new one.
type Layer struct {
	// Dir is the staging directory holding this layer's filesystem delta.
	// Empty for stages that only mutate configuration.
	Dir string

	// Base is the resolved base image. Set by the base stage and carried
	// through unchanged.
	Base v1.Image

	// BaseDigest is the manifest digest the registry served for Base.
	BaseDigest string

	// Config is the image configuration as of this stage.
	Config v1.Config

	// Packages is the installed-dependency set accumulated so far.
	Packages []installedPackage

	sealed v1.Layer
}

type installedPackage struct {
	Name    string
	Version string
}

// NewLayer creates a layer staged in dir, inheriting everything but the
// filesystem delta from prev. prev may be nil for the first stage.
func NewLayer(dir string, prev *Layer) *Layer {
	l := &Layer{Dir: dir}
	if prev != nil {
		l.Base = prev.Base
		l.BaseDigest = prev.BaseDigest
		l.Config = prev.Config
		l.Packages = append([]installedPackage(nil), prev.Packages...)
	}
	return l
}

// Path maps an absolute image path to a location inside the staging
// directory, refusing traversal out of it.
func (l *Layer) Path(imagePath string) (string, error) {
	if l.Dir == "" {
		return "", fmt.Errorf("layer has no staging directory")
	}
	return securejoin.SecureJoin(l.Dir, imagePath)
}

// Empty reports whether the layer carries no filesystem delta.
func (l *Layer) Empty() bool {
	if l.Dir == "" {
		return true
	}
	entries, err := os.ReadDir(l.Dir)
	return err != nil || len(entries) == 0
}

// Seal writes the staged delta as a deterministic tar and returns it as an
// image layer. Identical staged content always yields an identical digest,
// which is what makes rebuilds idempotent.
func (l *Layer) Seal() (v1.Layer, error) {
	if l.sealed != nil {
		return l.sealed, nil
	}
	if l.Empty() {
		return nil, fmt.Errorf("seal: layer %s is empty", l.Dir)
	}

	tarPath := l.Dir + ".tar"
	f, err := os.Create(tarPath)
	if err != nil {
		return nil, fmt.Errorf("create layer tar: %w", err)
	}
	if err := writeDeterministicTar(f, l.Dir); err != nil {
		f.Close()
		return nil, fmt.Errorf("write layer tar: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close layer tar: %w", err)
	}

	sealed, err := tarball.LayerFromFile(tarPath)
	if err != nil {
		return nil, fmt.Errorf("layer from tar: %w", err)
	}
	l.sealed = sealed
	return sealed, nil
}

// epoch is the fixed timestamp stamped on every tar entry.
var epoch = time.Unix(0, 0)

// writeDeterministicTar tars root with sorted entries, zeroed timestamps and
// numeric-only ownership so the digest depends on content alone.
func writeDeterministicTar(w io.Writer, root string) error {
	var names []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		names = append(names, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk staging dir: %w", err)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	for _, path := range names {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := os.Lstat(path)
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.ModTime = epoch
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}
		hdr.Uid = 0
		hdr.Gid = 0
		hdr.Uname = ""
		hdr.Gname = ""
		hdr.Format = tar.FormatUSTAR

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", hdr.Name, err)
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return fmt.Errorf("copy %s: %w", hdr.Name, err)
			}
		}
	}

	return tw.Close()
}
