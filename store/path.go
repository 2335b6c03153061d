// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package store implements the data model that nix-ninja shares with a
// Nix-style store daemon: store paths, derivations, derived paths, and
// the placeholder algebra used to stand in for not-yet-known
// content-addressed output paths.
package store

import (
	"cmp"
	"fmt"
	"path"
	"strings"
)

// hashPartLen is the fixed length of the base32 hash component at the
// start of a store path's file name.
const hashPartLen = 32

// Path is a validated store path: an absolute path whose file name
// begins with a 32-character base32 hash followed by a '-' and a name,
// e.g. "/nix/store/ac8da0sqpg4pyhzyr0qgl26d5dnpn7qp-hello-2.10.tar.gz".
//
// A Path is immutable and totally ordered by its underlying string.
type Path struct {
	s string
}

// NewPath validates s as a store path and returns it as a [Path].
func NewPath(s string) (Path, error) {
	name := path.Base(s)
	if len(name) <= hashPartLen+1 || name[hashPartLen] != '-' {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidStorePath, s)
	}
	return Path{s: s}, nil
}

// String returns the full path, including the store directory.
func (p Path) String() string {
	return p.s
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool {
	return p.s == ""
}

// Dir returns the store directory component of p
// (everything before the final path element).
func (p Path) Dir() string {
	return path.Dir(p.s)
}

// fileName returns the base name of the path.
// Only valid to call on a Path constructed via [NewPath].
func (p Path) fileName() string {
	return path.Base(p.s)
}

// HashPart returns the 32-character base32 hash component of the path's
// file name.
func (p Path) HashPart() string {
	return p.fileName()[:hashPartLen]
}

// Name returns the file name's component after the hash and dash.
func (p Path) Name() string {
	return p.fileName()[hashPartLen+1:]
}

// IsDerivation reports whether p names a derivation, i.e. its name ends
// in ".drv".
func (p Path) IsDerivation() bool {
	return strings.HasSuffix(p.Name(), ".drv")
}

// Compare orders two paths by their underlying string representation.
func Compare(a, b Path) int {
	return cmp.Compare(a.s, b.s)
}

// OutputPathName formats a derivation output's path name according to
// Nix conventions: the "out" output is named after the derivation
// itself, and any other output name is appended with a dash.
func OutputPathName(drvName, outputName string) string {
	if outputName == "out" {
		return drvName
	}
	return drvName + "-" + outputName
}
