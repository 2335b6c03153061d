// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package ninjagraph

import (
	"path/filepath"
	"strings"
)

// RelativeFrom rebases path against base, returning path unchanged if it
// does not share base as a prefix. Ported from the original
// implementation's relative_from helper, used to express discovered
// header paths (and build-directory pre-scan results) relative to the
// build directory whenever possible.
func RelativeFrom(path, base string) (string, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path, false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return path, false
	}

	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path, false
	}
	return rel, true
}
