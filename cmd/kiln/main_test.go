package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/lib/build"
	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/index"
	"github.com/kilnbuild/kiln/lib/paths"
	"github.com/kilnbuild/kiln/lib/runtime"
)

// newTestDeps wires the command dependencies against an in-memory registry
// holding one base image.
func newTestDeps(t *testing.T) (*deps, string) {
	t.Helper()

	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")

	base, err := random.Image(1024, 1)
	require.NoError(t, err)
	ref, err := name.ParseReference(host+"/library/python:3.7-alpine", name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, base))

	p := paths.New(t.TempDir())
	store := images.NewManager(p)
	resolver := images.NewResolver(images.WithInsecure())
	idx := index.NewMemIndex()

	return &deps{
		ctx:      context.Background(),
		paths:    p,
		store:    store,
		resolver: resolver,
		idx:      idx,
		builder:  build.NewBuilder(resolver, idx, store, 0),
		launcher: runtime.NewLauncher(p, store),
		out:      &bytes.Buffer{},
	}, host + "/library/python:3.7-alpine"
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBuildHonorsDescriptorContext(t *testing.T) {
	d, base := newTestDeps(t)

	// The descriptor declares its own context and tag; no positional
	// argument is given, so both must stand.
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "kiln.yaml"), `
base: `+base+`
interpreter: python
entrypoint: main.py
context: ./app
tag: fromyaml
`)
	writeFile(t, filepath.Join(project, "app", "main.py"), "print('hi')\n")
	writeFile(t, filepath.Join(project, "app", "requirements.txt"), "")

	cmd := &BuildCmd{File: filepath.Join(project, "kiln.yaml")}
	require.NoError(t, cmd.Run(d))

	img, err := d.store.Get(context.Background(), "img-fromyaml")
	require.NoError(t, err)
	assert.Equal(t, "fromyaml", img.Tag)
}

func TestBuildPositionalContextOverrides(t *testing.T) {
	d, base := newTestDeps(t)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, "kiln.yaml"), `
base: `+base+`
interpreter: python
entrypoint: main.py
context: ./app
tag: fromyaml
`)

	other := filepath.Join(t.TempDir(), "other")
	writeFile(t, filepath.Join(other, "main.py"), "print('hi')\n")
	writeFile(t, filepath.Join(other, "requirements.txt"), "")

	cmd := &BuildCmd{File: filepath.Join(project, "kiln.yaml"), Context: other}
	require.NoError(t, cmd.Run(d))

	img, err := d.store.Get(context.Background(), images.GenerateID("other"))
	require.NoError(t, err)
	assert.Equal(t, "other", img.Tag)
}

func TestBuildTagFlagWins(t *testing.T) {
	d, base := newTestDeps(t)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, "kiln.yaml"), `
base: `+base+`
interpreter: python
entrypoint: main.py
tag: fromyaml
`)
	writeFile(t, filepath.Join(project, "main.py"), "print('hi')\n")
	writeFile(t, filepath.Join(project, "requirements.txt"), "")

	cmd := &BuildCmd{File: filepath.Join(project, "kiln.yaml"), Tag: "flagged"}
	require.NoError(t, cmd.Run(d))

	img, err := d.store.Get(context.Background(), "img-flagged")
	require.NoError(t, err)
	assert.Equal(t, "flagged", img.Tag)
}

func TestResolveImageArgByTag(t *testing.T) {
	d, _ := newTestDeps(t)

	img, err := random.Image(512, 1)
	require.NoError(t, err)
	_, err = d.store.Put(context.Background(), img, &images.Image{ID: "img-demo", Tag: "demo"})
	require.NoError(t, err)

	id, err := resolveImageArg(d, "img-demo")
	require.NoError(t, err)
	assert.Equal(t, "img-demo", id)

	id, err = resolveImageArg(d, "demo")
	require.NoError(t, err)
	assert.Equal(t, "img-demo", id)

	_, err = resolveImageArg(d, "ghost")
	require.ErrorIs(t, err, images.ErrNotFound)
}
