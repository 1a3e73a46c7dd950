package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/kilnbuild/kiln/lib/descriptor"
)

// CreateBuild accepts a bootstrap descriptor (JSON or YAML) and starts a
// build job. The context path must be visible to the daemon.
func (s *ApiService) CreateBuild(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, fmt.Errorf("read body: %w", err))
		return
	}

	desc, err := descriptor.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if desc.Context == "" || !filepath.IsAbs(desc.Context) {
		writeError(w, fmt.Errorf("%w: context must be an absolute path", descriptor.ErrInvalidDescriptor))
		return
	}
	if desc.Tag == "" {
		desc.Tag = filepath.Base(desc.Context)
	}

	b, err := s.BuildManager.CreateBuild(r.Context(), desc)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, b)
}

func (s *ApiService) ListBuilds(w http.ResponseWriter, r *http.Request) {
	builds, err := s.BuildManager.ListBuilds(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, builds)
}

func (s *ApiService) GetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.BuildManager.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *ApiService) GetBuildLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.BuildManager.GetBuildLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	w.Write(logs)
}

func (s *ApiService) CancelBuild(w http.ResponseWriter, r *http.Request) {
	if err := s.BuildManager.CancelBuild(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
