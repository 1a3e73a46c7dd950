package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/lib/index"
)

// newManifestLayer stages a manifest file the way the context stage would
// have left it.
func newManifestLayer(t *testing.T, content string) *Layer {
	t.Helper()
	layer := NewLayer(t.TempDir(), nil)
	path, err := layer.Path("/app/requirements.txt")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return layer
}

func newDependencyStage(t *testing.T, idx index.Index) *dependencyStage {
	t.Helper()
	return &dependencyStage{
		idx:        idx,
		workDir:    "/app",
		manifest:   "requirements.txt",
		stagingDir: filepath.Join(t.TempDir(), "deps"),
	}
}

func TestDependencyStageInstalls(t *testing.T) {
	idx := index.NewMemIndex()
	require.NoError(t, idx.Add("flask", "2.0.0", []byte("flask-wheel")))
	require.NoError(t, idx.Add("requests", "2.25.0", []byte("requests-wheel")))
	require.NoError(t, idx.Add("requests", "2.31.0", []byte("requests-wheel-new")))

	prev := newManifestLayer(t, "flask==2.0.0\nrequests>=2.25.0\n")
	stage := newDependencyStage(t, idx)

	layer, err := stage.Apply(context.Background(), prev)
	require.NoError(t, err)

	require.Len(t, layer.Packages, 2)
	assert.Equal(t, installedPackage{Name: "flask", Version: "2.0.0"}, layer.Packages[0])
	assert.Equal(t, installedPackage{Name: "requests", Version: "2.31.0"}, layer.Packages[1])

	pkg, err := layer.Path(packagesDir + "/flask-2.0.0/flask.pkg")
	require.NoError(t, err)
	data, err := os.ReadFile(pkg)
	require.NoError(t, err)
	assert.Equal(t, "flask-wheel", string(data))

	record, err := layer.Path(packagesDir + "/flask-2.0.0/record.json")
	require.NoError(t, err)
	_, err = os.Stat(record)
	require.NoError(t, err)
}

func TestDependencyStageEmptyManifest(t *testing.T) {
	prev := newManifestLayer(t, "# nothing to install\n")
	stage := newDependencyStage(t, index.NewMemIndex())

	layer, err := stage.Apply(context.Background(), prev)
	require.NoError(t, err)
	assert.Empty(t, layer.Packages)
	assert.True(t, layer.Empty())
}

func TestDependencyStageUnresolvable(t *testing.T) {
	idx := index.NewMemIndex()
	require.NoError(t, idx.Add("flask", "1.1.0", []byte("old")))

	prev := newManifestLayer(t, "flask>=2.0.0\n")
	stage := newDependencyStage(t, idx)

	_, err := stage.Apply(context.Background(), prev)
	require.ErrorIs(t, err, ErrDependencyResolution)
	assert.Contains(t, err.Error(), "flask>=2.0.0")
}

func TestDependencyStageFirstFailureWins(t *testing.T) {
	// Resolution is sequential; the error names the first unresolvable
	// entry in manifest order.
	idx := index.NewMemIndex()

	prev := newManifestLayer(t, "aaa==1.0.0\nbbb==1.0.0\n")
	stage := newDependencyStage(t, idx)

	_, err := stage.Apply(context.Background(), prev)
	require.ErrorIs(t, err, ErrDependencyResolution)
	assert.Contains(t, err.Error(), "aaa==1.0.0")
	assert.NotContains(t, err.Error(), "bbb")
}

func TestDependencyStageMalformedManifest(t *testing.T) {
	prev := newManifestLayer(t, "not a valid line\n")
	stage := newDependencyStage(t, index.NewMemIndex())

	_, err := stage.Apply(context.Background(), prev)
	require.ErrorIs(t, err, ErrDependencyResolution)
}

func TestDependencyStageMissingManifest(t *testing.T) {
	prev := NewLayer(t.TempDir(), nil)
	stage := newDependencyStage(t, index.NewMemIndex())

	_, err := stage.Apply(context.Background(), prev)
	require.ErrorIs(t, err, ErrContext)
}
