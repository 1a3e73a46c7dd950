package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/Masterminds/semver"

	"github.com/kilnbuild/kiln/lib/manifest"
)

// HTTPIndex queries a simple JSON package index over HTTP:
// GET {base}/{name} returns the known artifact versions for a package.
type HTTPIndex struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIndex creates an index client for the given base URL.
func NewHTTPIndex(baseURL string, client *http.Client) *HTTPIndex {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIndex{baseURL: baseURL, client: client}
}

func (h *HTTPIndex) Resolve(ctx context.Context, entry manifest.Entry) (*Artifact, error) {
	u, err := url.JoinPath(h.baseURL, entry.Name)
	if err != nil {
		return nil, fmt.Errorf("index url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("index request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entry.String())
	default:
		return nil, fmt.Errorf("query index: unexpected status %s", resp.Status)
	}

	var listed []Artifact
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}

	type candidate struct {
		artifact Artifact
		version  *semver.Version
	}
	var matching []candidate
	for _, a := range listed {
		v, err := semver.NewVersion(a.Version)
		if err != nil {
			continue // unparseable versions are invisible to resolution
		}
		if entry.Matches(v.String()) {
			matching = append(matching, candidate{artifact: a, version: v})
		}
	}
	if len(matching) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entry.String())
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].version.LessThan(matching[j].version)
	})
	best := matching[len(matching)-1].artifact
	best.Name = entry.Name
	return &best, nil
}

func (h *HTTPIndex) Fetch(ctx context.Context, artifact *Artifact) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch artifact %s: unexpected status %s", artifact.URL, resp.Status)
	}

	if artifact.Digest == "" {
		return resp.Body, nil
	}

	// The index advertised a digest; verify before handing content out.
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	sum := sha256.Sum256(data)
	if got := "sha256:" + hex.EncodeToString(sum[:]); got != artifact.Digest {
		return nil, fmt.Errorf("%w: %s: want %s, got %s", ErrDigestMismatch, artifact.Name, artifact.Digest, got)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}
