// Package descriptor defines the bootstrap descriptor: the declarative record
// a build consumes. It names a base image, a build context, a dependency
// manifest, an exposed port and the command that starts the contained program.
package descriptor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/distribution/reference"
	"github.com/ghodss/yaml"
)

// DefaultFileName is the descriptor file looked up in a context directory.
const DefaultFileName = "kiln.yaml"

// DefaultWorkDir is where the build context is materialized inside the image.
const DefaultWorkDir = "/app"

// DeprecatedBases lists base tags known to pin end-of-life runtimes. A
// descriptor using one of these builds normally; callers may warn.
var DeprecatedBases = map[string]string{
	"python:2.7-alpine": "Python 2.7 reached end of life 2020-01-01",
	"python:3.6-alpine": "Python 3.6 reached end of life 2021-12-23",
	"python:3.7-alpine": "Python 3.7 reached end of life 2023-06-27",
}

// Descriptor is the parsed bootstrap descriptor.
type Descriptor struct {
	// Base is the base image reference, e.g. "python:3.7-alpine".
	Base string `json:"base"`

	// Context is the build context directory. Relative paths are resolved
	// against the descriptor file's directory when loaded from disk.
	Context string `json:"context,omitempty"`

	// Manifest is the dependency manifest path, relative to the context.
	Manifest string `json:"manifest,omitempty"`

	// Expose is the port the contained program is expected to listen on.
	// Declarative metadata only; nothing binds or checks it.
	Expose int `json:"expose,omitempty"`

	// Interpreter runs the entrypoint, e.g. "python".
	Interpreter string `json:"interpreter"`

	// Entrypoint is the file started on container launch, relative to the
	// image working directory.
	Entrypoint string `json:"entrypoint"`

	// WorkDir is the image working directory the context is copied into.
	WorkDir string `json:"workdir,omitempty"`

	// Tag names the output image. Defaults to the context directory name.
	Tag string `json:"tag,omitempty"`
}

// Load reads and validates a descriptor file. The context path is resolved
// relative to the descriptor's directory and defaults are applied.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if d.Context == "" {
		d.Context = dir
	} else if !filepath.IsAbs(d.Context) {
		d.Context = filepath.Join(dir, d.Context)
	}
	if d.Tag == "" {
		abs, err := filepath.Abs(d.Context)
		if err != nil {
			return nil, fmt.Errorf("resolve context: %w", err)
		}
		d.Tag = filepath.Base(abs)
	}

	return d, nil
}

// Parse decodes a descriptor from YAML, validates it against the schema and
// applies defaults. The context directory is left as-is.
func Parse(data []byte) (*Descriptor, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	d.applyDefaults()

	if _, err := reference.ParseNormalizedNamed(d.Base); err != nil {
		return nil, fmt.Errorf("%w: base %q: %v", ErrInvalidDescriptor, d.Base, err)
	}
	if filepath.IsAbs(d.Manifest) {
		return nil, fmt.Errorf("%w: manifest must be relative to the context", ErrInvalidDescriptor)
	}
	if filepath.IsAbs(d.Entrypoint) {
		return nil, fmt.Errorf("%w: entrypoint must be relative to the working directory", ErrInvalidDescriptor)
	}

	return &d, nil
}

func (d *Descriptor) applyDefaults() {
	if d.Manifest == "" {
		d.Manifest = "requirements.txt"
	}
	if d.Expose == 0 {
		d.Expose = 8000
	}
	if d.WorkDir == "" {
		d.WorkDir = DefaultWorkDir
	}
}

// Deprecation returns a human-readable warning when the base tag pins a known
// end-of-life runtime, and an empty string otherwise.
func (d *Descriptor) Deprecation() string {
	return DeprecatedBases[d.Base]
}

// LaunchCommand returns the process invocation recorded in the image config:
// the interpreter followed by the entrypoint file, no further arguments.
func (d *Descriptor) LaunchCommand() []string {
	return []string{d.Interpreter, d.Entrypoint}
}
