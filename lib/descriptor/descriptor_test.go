package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	d, err := Parse([]byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: main.py
`))
	require.NoError(t, err)

	assert.Equal(t, "python:3.7-alpine", d.Base)
	assert.Equal(t, "requirements.txt", d.Manifest)
	assert.Equal(t, 8000, d.Expose)
	assert.Equal(t, DefaultWorkDir, d.WorkDir)
	assert.Equal(t, []string{"python", "main.py"}, d.LaunchCommand())
}

func TestParseExplicitFields(t *testing.T) {
	d, err := Parse([]byte(`
base: docker.io/library/python:3.12
manifest: deps.txt
expose: 9090
interpreter: python3
entrypoint: server.py
workdir: /srv
tag: myapp
`))
	require.NoError(t, err)

	assert.Equal(t, "deps.txt", d.Manifest)
	assert.Equal(t, 9090, d.Expose)
	assert.Equal(t, "/srv", d.WorkDir)
	assert.Equal(t, "myapp", d.Tag)
}

func TestParseJSON(t *testing.T) {
	// YAML is a superset of JSON; API clients may post either.
	d, err := Parse([]byte(`{"base": "python:3.7-alpine", "interpreter": "python", "entrypoint": "main.py"}`))
	require.NoError(t, err)
	assert.Equal(t, "python:3.7-alpine", d.Base)
}

func TestParseRejectsMissingRequired(t *testing.T) {
	_, err := Parse([]byte(`base: python:3.7-alpine`))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: main.py
bogus: true
`))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestParseRejectsBadPort(t *testing.T) {
	_, err := Parse([]byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: main.py
expose: 70000
`))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestParseRejectsInvalidBaseRef(t *testing.T) {
	_, err := Parse([]byte(`
base: "UPPER_CASE:::bad"
interpreter: python
entrypoint: main.py
`))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestParseRejectsAbsolutePaths(t *testing.T) {
	_, err := Parse([]byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: /main.py
`))
	require.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = Parse([]byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: main.py
manifest: /etc/passwd
`))
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestLoadResolvesContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: main.py
context: ./src
`), 0644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "src"), d.Context)
	assert.Equal(t, "src", d.Tag)
}

func TestLoadDefaultsContextToDescriptorDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
base: python:3.7-alpine
interpreter: python
entrypoint: main.py
`), 0644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, d.Context)
	assert.Equal(t, filepath.Base(dir), d.Tag)
}

func TestDeprecation(t *testing.T) {
	d := &Descriptor{Base: "python:2.7-alpine"}
	assert.NotEmpty(t, d.Deprecation())

	d = &Descriptor{Base: "python:3.12-alpine"}
	assert.Empty(t, d.Deprecation())
}
