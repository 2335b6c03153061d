// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"strings"
)

// DerivedFile pairs a [SingleDerivedPath] with the logical path at which
// the file should appear inside a build tree. Path is where the file
// physically lives in the store (or will live, once built); Source is
// the build-tree-relative path.
type DerivedFile struct {
	Path   SingleDerivedPath
	Source string
}

// Encode renders f in its wire form: "<input-projection>:<source>".
func (f DerivedFile) Encode() string {
	return f.Path.Input() + ":" + f.Source
}

// ParseDerivedFile parses the wire encoding produced by [DerivedFile.Encode].
// Opaque paths only: the sandbox helper and the runner's pre-scan only
// ever encode already-materialized store paths, never built outputs.
func ParseDerivedFile(encoded string) (DerivedFile, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 2 {
		return DerivedFile{}, fmt.Errorf("%w: %q", ErrInvalidDerivedFile, encoded)
	}
	sp, err := NewPath(parts[0])
	if err != nil {
		return DerivedFile{}, err
	}
	return DerivedFile{Path: Opaque(sp), Source: parts[1]}, nil
}

// CompareDerivedFile orders two derived files by their underlying
// derived path's string form, then by source.
func CompareDerivedFile(a, b DerivedFile) int {
	if c := strings.Compare(a.Path.String(), b.Path.String()); c != 0 {
		return c
	}
	return strings.Compare(a.Source, b.Source)
}

// DerivedOutput pairs a placeholder for a not-yet-built output with the
// build-tree-relative path the sandbox helper should copy that output's
// contents to once the build completes.
type DerivedOutput struct {
	Placeholder Placeholder
	Source      string
}

// Encode renders o in its wire form: "<placeholder>:<source>".
func (o DerivedOutput) Encode() string {
	return o.Placeholder.Render() + ":" + o.Source
}
