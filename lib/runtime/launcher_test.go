package runtime

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/paths"
)

func TestLaunchUnknownImage(t *testing.T) {
	p := paths.New(t.TempDir())
	launcher := NewLauncher(p, images.NewManager(p))

	_, err := launcher.Launch(context.Background(), "nope", LaunchOptions{})
	require.ErrorIs(t, err, images.ErrNotFound)
}

func TestLaunchImageWithoutLaunchCommand(t *testing.T) {
	p := paths.New(t.TempDir())
	store := images.NewManager(p)

	img, err := random.Image(512, 1)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), img, &images.Image{ID: "img-bare", Tag: "bare"})
	require.NoError(t, err)

	launcher := NewLauncher(p, store)
	_, err = launcher.Launch(context.Background(), "img-bare", LaunchOptions{})
	require.ErrorIs(t, err, ErrProcessStart)
}

func TestRunProcessPropagatesExitCode(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	require.NoError(t, err)

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "main.sh"), []byte("exit 7\n"), 0644))

	opts := LaunchOptions{Stdin: strings.NewReader(""), Stdout: io.Discard, Stderr: io.Discard}
	code, err := runProcess(context.Background(), shPath, "main.sh", workDir, "img-x", opts)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestRunProcessCleanExit(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	require.NoError(t, err)

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "main.sh"), []byte("exit 0\n"), 0644))

	opts := LaunchOptions{Stdin: strings.NewReader(""), Stdout: io.Discard, Stderr: io.Discard}
	code, err := runProcess(context.Background(), shPath, "main.sh", workDir, "img-x", opts)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRunProcessRunsInWorkDir(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	require.NoError(t, err)

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "main.sh"), []byte("test -f main.sh\n"), 0644))

	opts := LaunchOptions{Stdin: strings.NewReader(""), Stdout: io.Discard, Stderr: io.Discard}
	code, err := runProcess(context.Background(), shPath, "main.sh", workDir, "img-x", opts)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRunProcessStartFailure(t *testing.T) {
	workDir := t.TempDir()
	missing := filepath.Join(t.TempDir(), "no-such-interpreter")

	_, err := runProcess(context.Background(), missing, "main.sh", workDir, "img-x", LaunchOptions{})
	require.ErrorIs(t, err, ErrProcessStart)
}

func TestLookupInterpreterPrefersImage(t *testing.T) {
	rootfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "usr", "bin"), 0755))
	shipped := filepath.Join(rootfs, "usr", "bin", "python")
	require.NoError(t, os.WriteFile(shipped, []byte("#!/bin/sh\n"), 0755))

	path, err := lookupInterpreter(rootfs, "python")
	require.NoError(t, err)
	assert.Equal(t, shipped, path)
}

func TestLookupInterpreterIgnoresNonExecutable(t *testing.T) {
	rootfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "usr", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rootfs, "usr", "bin", "qzx"), []byte("data"), 0644))

	_, err := lookupInterpreter(rootfs, "qzx")
	require.ErrorIs(t, err, ErrProcessStart)
}

func TestLookupInterpreterHostFallback(t *testing.T) {
	// sh exists on any host this runs on.
	path, err := lookupInterpreter(t.TempDir(), "sh")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestLookupInterpreterMissing(t *testing.T) {
	_, err := lookupInterpreter(t.TempDir(), "definitely-not-an-interpreter-zzz")
	require.ErrorIs(t, err, ErrProcessStart)
}
