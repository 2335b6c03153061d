// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package ninjagraph

import "path"

// CanonPath lexically canonicalizes a build-tree path the way Ninja
// does: "./" segments are dropped and ".." segments consume their
// parent, without consulting the file system. Absolute paths stay
// absolute; everything else stays relative.
func CanonPath(p string) string {
	if p == "" {
		return p
	}
	return path.Clean(p)
}
