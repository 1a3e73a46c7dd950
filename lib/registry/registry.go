// Package registry serves built images over the OCI Distribution Spec so
// container runtimes can pull what kiln baked.
package registry

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/registry"

	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/paths"
)

// manifestPattern matches GET/HEAD requests to /v2/{name}/manifests/{reference}.
var manifestPattern = regexp.MustCompile(`^/v2/([^/]+)/manifests/(.+)$`)

// Registry exposes the image store read-only over the distribution API.
// Blob requests are delegated to the shared OCI layout; manifest requests
// are answered from the store.
type Registry struct {
	store   images.Manager
	handler http.Handler
}

// New creates a registry over the given image store.
func New(p *paths.Paths, store images.Manager) *Registry {
	return &Registry{
		store: store,
		handler: registry.New(
			registry.WithBlobHandler(&blobStore{paths: p}),
		),
	}
}

// Handler returns the http.Handler for the registry endpoints. Mount it
// at /v2.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet, http.MethodHead:
			if m := manifestPattern.FindStringSubmatch(req.URL.Path); m != nil {
				r.serveManifest(w, req, m[1], m[2])
				return
			}
		case http.MethodPut, http.MethodPost, http.MethodPatch, http.MethodDelete:
			// Images enter the store through builds, not pushes.
			http.Error(w, "registry is read-only", http.StatusMethodNotAllowed)
			return
		}

		r.handler.ServeHTTP(w, req)
	})
}

// serveManifest answers manifest requests for stored images. The repository
// name is the image ID; any tag serves the current manifest, digest
// references must match it.
func (r *Registry) serveManifest(w http.ResponseWriter, req *http.Request, repo, reference string) {
	ctx := req.Context()

	img, err := r.store.Open(ctx, repo)
	if err != nil {
		http.Error(w, "manifest unknown", http.StatusNotFound)
		return
	}

	digest, err := img.Digest()
	if err != nil {
		http.Error(w, "manifest unavailable", http.StatusInternalServerError)
		return
	}
	if strings.HasPrefix(reference, "sha256:") && reference != digest.String() {
		http.Error(w, "manifest unknown", http.StatusNotFound)
		return
	}

	raw, err := img.RawManifest()
	if err != nil {
		http.Error(w, "manifest unavailable", http.StatusInternalServerError)
		return
	}
	mediaType, err := img.MediaType()
	if err != nil {
		http.Error(w, "manifest unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(mediaType))
	w.Header().Set("Docker-Content-Digest", digest.String())
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodGet {
		w.Write(raw)
	}
}

// List returns the IDs servable from this registry.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	metas, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
