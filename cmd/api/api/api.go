// Package api implements the HTTP control plane: build jobs, the image
// store and the registry mount.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/riandyrn/otelchi"

	"github.com/kilnbuild/kiln/cmd/api/config"
	"github.com/kilnbuild/kiln/lib/build"
	"github.com/kilnbuild/kiln/lib/descriptor"
	"github.com/kilnbuild/kiln/lib/images"
	"github.com/kilnbuild/kiln/lib/middleware"
	"github.com/kilnbuild/kiln/lib/registry"
)

// ApiService exposes the managers over HTTP.
type ApiService struct {
	Config       *config.Config
	ImageManager images.Manager
	BuildManager build.Manager
	Registry     *registry.Registry
}

// New creates a new ApiService.
func New(
	cfg *config.Config,
	imageManager images.Manager,
	buildManager build.Manager,
	reg *registry.Registry,
) *ApiService {
	return &ApiService{
		Config:       cfg,
		ImageManager: imageManager,
		BuildManager: buildManager,
		Registry:     reg,
	}
}

// Router assembles the chi router with middleware and all routes.
func (s *ApiService) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(otelchi.Middleware("kiln", otelchi.WithChiRoutes(r)))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.VerifyJWT(s.Config.JwtSecret))

		r.Route("/builds", func(r chi.Router) {
			r.Post("/", s.CreateBuild)
			r.Get("/", s.ListBuilds)
			r.Get("/{id}", s.GetBuild)
			r.Get("/{id}/logs", s.GetBuildLogs)
			r.Post("/{id}/cancel", s.CancelBuild)
		})

		r.Route("/images", func(r chi.Router) {
			r.Get("/", s.ListImages)
			r.Get("/{id}", s.GetImage)
			r.Delete("/{id}", s.DeleteImage)
		})
	})

	r.Mount("/v2", s.Registry.Handler())

	return r
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, images.ErrNotFound), errors.Is(err, build.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()})
	case errors.Is(err, images.ErrInvalidName), errors.Is(err, descriptor.ErrInvalidDescriptor):
		writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_request", Message: err.Error()})
	case errors.Is(err, build.ErrNotCancelable):
		writeJSON(w, http.StatusConflict, apiError{Code: "conflict", Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, apiError{Code: "internal", Message: err.Error()})
	}
}
