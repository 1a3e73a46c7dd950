package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/kilnbuild/kiln/lib/logger"
)

// ErrContextTooLarge is returned when the copied context exceeds the
// configured size limit.
var ErrContextTooLarge = errors.New("build context exceeds size limit")

// contextStage materializes the build context: every file under the context
// directory is copied into the image working directory, relative paths
// preserved. The dependency manifest must be present after the copy; the
// entrypoint file is checked at container start, not here.
type contextStage struct {
	contextDir string
	workDir    string
	manifest   string
	entrypoint string
	maxBytes   int64
	stagingDir string
}

func (s *contextStage) Name() string { return "context" }

func (s *contextStage) Apply(ctx context.Context, prev *Layer) (*Layer, error) {
	info, err := os.Stat(s.contextDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContext, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrContext, s.contextDir)
	}

	layer := NewLayer(s.stagingDir, prev)

	var copied int64
	err = filepath.WalkDir(s.contextDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrContext, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.contextDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		target, err := layer.Path(path.Join(s.workDir, filepath.ToSlash(rel)))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrContext, err)
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)

		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrContext, err)
			}
			// Absolute targets would point outside the layer.
			if filepath.IsAbs(link) {
				return fmt.Errorf("%w: absolute symlink %s", ErrContext, rel)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			return os.Symlink(link, target)

		case d.Type().IsRegular():
			n, err := copyFile(p, target, s.maxBytes-copied)
			copied += n
			if copied > s.maxBytes {
				return fmt.Errorf("%w: %d bytes", ErrContextTooLarge, s.maxBytes)
			}
			return err

		default:
			// Sockets, devices and the like have no place in an image.
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	// Invariant: the manifest must exist in the now-copied context.
	manifestPath, err := layer.Path(path.Join(s.workDir, s.manifest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContext, err)
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, fmt.Errorf("%w: manifest %s not found in context", ErrContext, s.manifest)
	}

	// A missing entrypoint surfaces at container start as a process start
	// failure, never at build time. Worth a warning though.
	entryPath, err := layer.Path(path.Join(s.workDir, s.entrypoint))
	if err == nil {
		if _, statErr := os.Stat(entryPath); statErr != nil {
			logger.FromContext(ctx).WarnContext(ctx, "entrypoint not present in context; container start will fail",
				"entrypoint", s.entrypoint)
		}
	}

	return layer, nil
}

// copyFile copies one regular file, preserving its mode, refusing to write
// more than limit bytes.
func copyFile(src, dst string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrContext, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrContext, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	// +1 so exceeding the limit is observable by the caller.
	n, err := io.Copy(out, io.LimitReader(in, limit+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", src, err)
	}
	return n, nil
}
