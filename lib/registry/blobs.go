package registry

import (
	"context"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/kilnbuild/kiln/lib/paths"
)

// blobStore serves blobs straight out of the shared OCI layout, so pulls
// read the same bytes builds wrote. Repositories are irrelevant: the layout
// is content-addressed and deduplicated across images.
type blobStore struct {
	paths *paths.Paths
}

var _ registry.BlobHandler = (*blobStore)(nil)

func (b *blobStore) Get(ctx context.Context, repo string, h v1.Hash) (io.ReadCloser, error) {
	if h.Algorithm != "sha256" {
		return nil, registry.ErrNotFound
	}

	f, err := os.Open(b.paths.OCIBlob(h.Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, registry.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}
