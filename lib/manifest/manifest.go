// Package manifest parses line-oriented dependency manifests: one package per
// line, each optionally qualified with a version constraint
// (e.g. "flask==2.0.0"). Blank lines and #-comments are skipped.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver"
)

var ErrInvalidEntry = errors.New("invalid manifest entry")

// operators ordered longest-first so "==" wins over "=" style prefixes.
var operators = []string{"==", ">=", "<=", "!=", ">", "<"}

// Entry is one requested package: a normalized name plus an optional version
// constraint.
type Entry struct {
	Name       string
	Operator   string // empty when any version is acceptable
	Version    string
	constraint *semver.Constraints
}

// Parse reads a manifest. Entries are returned in file order; a malformed
// line fails the whole parse, identifying the line.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return entries, nil
}

func parseLine(line string) (Entry, error) {
	// Inline comments after the requirement are allowed.
	if i := strings.Index(line, " #"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	for _, op := range operators {
		i := strings.Index(line, op)
		if i < 0 {
			continue
		}

		name := strings.TrimSpace(line[:i])
		version := strings.TrimSpace(line[i+len(op):])
		if name == "" || version == "" {
			return Entry{}, fmt.Errorf("%w: %q", ErrInvalidEntry, line)
		}

		c, err := semver.NewConstraint(constraintExpr(op, version))
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %q: %v", ErrInvalidEntry, line, err)
		}

		return Entry{
			Name:       normalizeName(name),
			Operator:   op,
			Version:    version,
			constraint: c,
		}, nil
	}

	if strings.ContainsAny(line, " \t=") {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidEntry, line)
	}
	return Entry{Name: normalizeName(line)}, nil
}

// constraintExpr maps manifest operators onto semver constraint syntax.
func constraintExpr(op, version string) string {
	if op == "==" {
		op = "="
	}
	return op + " " + version
}

// Matches reports whether the given version satisfies the entry's constraint.
// Entries without a constraint accept every parseable version.
func (e Entry) Matches(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	if e.constraint == nil {
		return true
	}
	return e.constraint.Check(v)
}

// String renders the entry in manifest syntax.
func (e Entry) String() string {
	if e.Operator == "" {
		return e.Name
	}
	return e.Name + e.Operator + e.Version
}

// normalizeName lowercases and collapses separator runs, mirroring how
// package indexes canonicalize names.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, sep := range []string{"_", "."} {
		name = strings.ReplaceAll(name, sep, "-")
	}
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	return name
}
