// Package runtime launches containers from built images: it materializes the
// image rootfs and starts the recorded launch command, propagating the
// process exit code as the container exit code.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/logger"
	"github.com/kilnbuild/kiln/lib/paths"
)

// Launcher starts containers from stored images.
type Launcher interface {
	// Launch unpacks the image and runs its launch command to completion,
	// returning the process exit code. ErrProcessStart is returned when the
	// process cannot be started at all; errors the program raises once
	// running are opaque and reflected only in the exit code.
	Launch(ctx context.Context, imageID string, opts LaunchOptions) (int, error)
}

// LaunchOptions configures one launch. Zero values inherit the kiln
// process's standard streams.
type LaunchOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// KeepRootfs leaves the unpacked rootfs on disk after exit.
	KeepRootfs bool
}

type launcher struct {
	paths *paths.Paths
	store images.Manager
}

// NewLauncher creates a launcher reading from the given image store.
func NewLauncher(p *paths.Paths, store images.Manager) Launcher {
	return &launcher{paths: p, store: store}
}

func (l *launcher) Launch(ctx context.Context, imageID string, opts LaunchOptions) (int, error) {
	meta, err := l.store.Get(ctx, imageID)
	if err != nil {
		return -1, err
	}
	if len(meta.Entrypoint) < 2 {
		return -1, fmt.Errorf("%w: image records no launch command", ErrProcessStart)
	}
	interpreter, entryFile := meta.Entrypoint[0], meta.Entrypoint[1]

	if err := os.MkdirAll(l.paths.RuntimeDir(imageID), 0755); err != nil {
		return -1, fmt.Errorf("create runtime dir: %w", err)
	}
	rootfs, err := os.MkdirTemp(l.paths.RuntimeDir(imageID), "rootfs-")
	if err != nil {
		return -1, fmt.Errorf("create rootfs dir: %w", err)
	}
	if !opts.KeepRootfs {
		defer os.RemoveAll(rootfs)
	}

	if err := unpackRootfs(ctx, l.paths.OCILayout(), imageID, rootfs); err != nil {
		return -1, err
	}

	workDir, err := securejoin.SecureJoin(rootfs, meta.WorkingDir)
	if err != nil {
		return -1, fmt.Errorf("resolve working dir: %w", err)
	}

	entryPath, err := securejoin.SecureJoin(workDir, entryFile)
	if err != nil {
		return -1, fmt.Errorf("resolve entrypoint: %w", err)
	}
	if _, err := os.Stat(entryPath); err != nil {
		return -1, fmt.Errorf("%w: entrypoint %s: %v", ErrProcessStart, entryFile, err)
	}

	interpPath, err := lookupInterpreter(rootfs, interpreter)
	if err != nil {
		return -1, err
	}

	return runProcess(ctx, interpPath, entryFile, workDir, imageID, opts)
}

// runProcess starts the launch command and waits for it, translating the
// outcome into a container exit code. The launch command is exactly
// interpreter + entrypoint, no further arguments. The exposed port is
// metadata; nothing here binds or verifies it.
func runProcess(ctx context.Context, interpPath, entryFile, workDir, imageID string, opts LaunchOptions) (int, error) {
	log := logger.FromContext(ctx)

	cmd := exec.CommandContext(ctx, interpPath, entryFile)
	cmd.Dir = workDir
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = append(os.Environ(), "KILN_IMAGE="+imageID)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("%w: %v", ErrProcessStart, err)
	}

	log.InfoContext(ctx, "process started", "image", imageID, "pid", cmd.Process.Pid,
		"command", interpPath+" "+entryFile)

	// Termination signals pass through to the child; its exit decides ours.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				_ = cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait: %w", err)
	}
	return 0, nil
}

// lookupInterpreter prefers an interpreter shipped in the image, falling
// back to the host PATH.
func lookupInterpreter(rootfs, interpreter string) (string, error) {
	for _, dir := range []string{"usr/local/bin", "usr/bin", "bin", "usr/sbin", "sbin"} {
		candidate := filepath.Join(rootfs, dir, interpreter)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(interpreter)
	if err != nil {
		return "", fmt.Errorf("%w: interpreter %s not found", ErrProcessStart, interpreter)
	}
	return path, nil
}
