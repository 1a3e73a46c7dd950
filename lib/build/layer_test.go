package build

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerPathRefusesTraversal(t *testing.T) {
	dir := t.TempDir()
	layer := NewLayer(dir, nil)

	p, err := layer.Path("/app/../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, dir), "resolved path must stay inside %s, got %s", dir, p)
}

func TestLayerEmpty(t *testing.T) {
	layer := NewLayer("", nil)
	assert.True(t, layer.Empty())

	dir := t.TempDir()
	layer = NewLayer(dir, nil)
	assert.True(t, layer.Empty())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644))
	assert.False(t, layer.Empty())
}

func TestLayerInheritsFromPrev(t *testing.T) {
	prev := NewLayer("", nil)
	prev.BaseDigest = "sha256:abc"
	prev.Config.WorkingDir = "/app"
	prev.Packages = []installedPackage{{Name: "flask", Version: "2.0.0"}}

	next := NewLayer(t.TempDir(), prev)
	assert.Equal(t, "sha256:abc", next.BaseDigest)
	assert.Equal(t, "/app", next.Config.WorkingDir)
	require.Len(t, next.Packages, 1)

	// The copy is independent of the predecessor's slice.
	next.Packages = append(next.Packages, installedPackage{Name: "requests", Version: "2.25.0"})
	assert.Len(t, prev.Packages, 1)
}

func TestSealDeterministic(t *testing.T) {
	writeTree := func(t *testing.T) *Layer {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "app", "sub"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "main.py"), []byte("print('hi')\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "sub", "util.py"), []byte("x = 1\n"), 0644))
		require.NoError(t, os.Symlink("main.py", filepath.Join(dir, "app", "entry")))
		return NewLayer(dir, nil)
	}

	first, err := writeTree(t).Seal()
	require.NoError(t, err)
	second, err := writeTree(t).Seal()
	require.NoError(t, err)

	d1, err := first.Digest()
	require.NoError(t, err)
	d2, err := second.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1.String(), d2.String(), "identical content must seal to identical digests")
}

func TestSealEmptyFails(t *testing.T) {
	_, err := NewLayer(t.TempDir(), nil).Seal()
	require.Error(t, err)
}

func TestSealCached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644))
	layer := NewLayer(dir, nil)

	first, err := layer.Seal()
	require.NoError(t, err)
	second, err := layer.Seal()
	require.NoError(t, err)
	assert.Same(t, first, second)
}
