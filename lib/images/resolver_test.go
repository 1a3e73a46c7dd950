package images

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry starts an in-memory registry and pushes an image to it,
// returning the registry host and the pushed image.
func newTestRegistry(t *testing.T, repo, tag string) (string, v1.Image) {
	t.Helper()

	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")

	img, err := random.Image(1024, 1)
	require.NoError(t, err)

	ref, err := name.ParseReference(host+"/"+repo+":"+tag, name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, img))

	return host, img
}

func TestResolveTag(t *testing.T) {
	host, img := newTestRegistry(t, "library/python", "3.7-alpine")
	resolver := NewResolver(WithInsecure())

	ref, err := ParseRef(host + "/library/python:3.7-alpine")
	require.NoError(t, err)

	resolved, err := resolver.Resolve(context.Background(), ref)
	require.NoError(t, err)

	wantDigest, err := img.Digest()
	require.NoError(t, err)
	assert.Equal(t, wantDigest.String(), resolved.Digest())
}

func TestResolveUnknownTag(t *testing.T) {
	host, _ := newTestRegistry(t, "library/python", "3.7-alpine")
	resolver := NewResolver(WithInsecure())

	ref, err := ParseRef(host + "/library/python:no-such-tag")
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), ref)
	require.ErrorIs(t, err, ErrResolution)
}

func TestResolveUnknownRepository(t *testing.T) {
	host, _ := newTestRegistry(t, "library/python", "3.7-alpine")
	resolver := NewResolver(WithInsecure())

	ref, err := ParseRef(host + "/library/ghost:latest")
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), ref)
	require.ErrorIs(t, err, ErrResolution)
}

func TestResolveDigestRefSkipsRegistry(t *testing.T) {
	resolver := NewResolver()

	digest := "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	ref, err := ParseRef("example.invalid/repo@" + digest)
	require.NoError(t, err)

	// No registry behind example.invalid; digest refs resolve without I/O.
	resolved, err := resolver.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, digest, resolved.Digest())
}

func TestFetch(t *testing.T) {
	host, img := newTestRegistry(t, "library/python", "3.7-alpine")
	resolver := NewResolver(WithInsecure())

	ref, err := ParseRef(host + "/library/python:3.7-alpine")
	require.NoError(t, err)
	resolved, err := resolver.Resolve(context.Background(), ref)
	require.NoError(t, err)

	fetched, err := resolver.Fetch(context.Background(), resolved)
	require.NoError(t, err)

	wantDigest, err := img.Digest()
	require.NoError(t, err)
	gotDigest, err := fetched.Digest()
	require.NoError(t, err)
	assert.Equal(t, wantDigest.String(), gotDigest.String())
}
