// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package sandbox stages and runs one synthesized task. It executes
// inside the store daemon's build sandbox: inputs are symlinked into
// a build tree that mirrors the original source layout, the edge's
// command runs through /bin/sh, and the declared outputs are copied
// to their content-addressed destinations.
//
// By the time the daemon invokes the helper, every output placeholder
// in the environment has been rewritten to a real store path, so both
// input and output encodings parse as opaque derived files.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/smpdt/nix-ninja/store"
)

// Config carries the helper's full invocation.
type Config struct {
	BuildDir    string
	Description string

	// Inputs and Outputs are whitespace-separated derived-file
	// encodings, from --inputs/--outputs or $NIX_NINJA_INPUTS /
	// $NIX_NINJA_OUTPUTS.
	Inputs  string
	Outputs string

	Cmdline string
}

// Run stages Config's inputs, executes its command, and copies its
// outputs out. The returned int is the exit code to report: non-zero
// when the command itself failed, in which case err is nil.
func Run(ctx context.Context, config Config) (int, error) {
	inputs, err := parseEncoded(config.Inputs)
	if err != nil {
		return 0, err
	}
	outputs, err := parseEncoded(config.Outputs)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(config.BuildDir, 0o755); err != nil {
		return 0, err
	}
	if err := os.Chdir(config.BuildDir); err != nil {
		return 0, err
	}

	if err := createSymlinks(config.BuildDir, inputs); err != nil {
		return 0, err
	}
	fmt.Printf("nix-ninja-task: Setup source directory in %s\n", config.BuildDir)

	if err := createParentDirs(outputs); err != nil {
		return 0, err
	}

	if config.Description != "" {
		fmt.Printf("nix-ninja-task: %s\n", config.Description)
	}

	// Spawn via sh like ninja upstream does.
	fmt.Printf("nix-ninja-task: Running: /bin/sh -c %q\n", config.Cmdline)
	code, err := spawnProcess(ctx, config.Cmdline)
	if err != nil {
		return 0, err
	}
	if code != 0 {
		fmt.Printf("nix-ninja-task: Failed with exit code %d\n", code)
		return code, nil
	}

	// Outputs are created in the build directory and copied out:
	// ninja rules may write anywhere in the tree, so the command
	// cannot target the store paths directly.
	fmt.Printf("nix-ninja-task: Finished! Copying %d build outputs to derivation output paths\n", len(outputs))
	for _, output := range outputs {
		if err := copyFile(output.Source, output.Path.String()); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func parseEncoded(encoded string) ([]store.DerivedFile, error) {
	var files []store.DerivedFile
	for _, enc := range strings.Fields(encoded) {
		df, err := store.ParseDerivedFile(enc)
		if err != nil {
			return nil, err
		}
		files = append(files, df)
	}
	return files, nil
}

// createSymlinks recreates the source tree under prefix: each input
// appears at prefix/<source> as a symlink to its store location.
func createSymlinks(prefix string, inputs []store.DerivedFile) error {
	for _, input := range inputs {
		dest := filepath.Join(prefix, input.Source)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(input.Path.String(), dest); err != nil {
			return fmt.Errorf("failed to create symlink from %s to %s: %w", input.Path, dest, err)
		}
	}
	return nil
}

func createParentDirs(outputs []store.DerivedFile) error {
	for _, output := range outputs {
		if dir := filepath.Dir(output.Source); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	return nil
}

func spawnProcess(ctx context.Context, cmdline string) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return 0, err
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
