// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package buildscan walks the build directory before scheduling
// starts. Build systems like Meson generate files during their
// configure step that the Ninja manifest never lists as inputs, so
// every regular file found here is added to the store and treated as
// an implicit input for all tasks.
package buildscan

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/smpdt/nix-ninja/internal/ninjagraph"
	"github.com/smpdt/nix-ninja/internal/nixclient"
	"github.com/smpdt/nix-ninja/store"
	"zombiezen.com/go/log"
)

// Entry pairs a pre-scanned file's build-tree-relative path with its
// store registration.
type Entry struct {
	RelPath string
	File    store.DerivedFile
}

// Scan walks buildDir recursively, adds every regular file to the
// store, and returns one [Entry] per file. The entry's source path is
// expressed relative to buildDir whenever the file lies under it.
func Scan(ctx context.Context, client *nixclient.Client, buildDir string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(buildDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, ok := ninjagraph.RelativeFrom(path, buildDir)
		if !ok {
			relPath = path
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		canonical, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return err
		}
		sp, err := client.StoreAdd(ctx, canonical)
		if err != nil {
			return err
		}
		log.Debugf(ctx, "pre-scanned %s -> %s", relPath, sp)
		entries = append(entries, Entry{
			RelPath: relPath,
			File:    store.DerivedFile{Path: store.Opaque(sp), Source: relPath},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
