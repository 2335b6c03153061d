// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"zombiezen.com/go/log"

	"github.com/smpdt/nix-ninja/internal/ninjaparse"
	"github.com/smpdt/nix-ninja/internal/scheduler"
	"github.com/smpdt/nix-ninja/internal/synth"
	"github.com/smpdt/nix-ninja/internal/system"
	"github.com/smpdt/nix-ninja/store"
)

// build loads the manifest, walks the graph, and returns the derived
// file for the requested target: a reference to the final target's
// not-yet-built derivation output.
func build(ctx context.Context, g *globalConfig) (store.DerivedFile, error) {
	buildDir, err := os.Getwd()
	if err != nil {
		return store.DerivedFile{}, err
	}

	manifest, err := ninjaparse.Load(g.buildFilename)
	if err != nil {
		return store.DerivedFile{}, err
	}

	coreutils, err := synth.WhichStorePath("coreutils")
	if err != nil {
		return store.DerivedFile{}, err
	}
	taskHelper, err := synth.WhichStorePath("nix-ninja-task")
	if err != nil {
		return store.DerivedFile{}, err
	}
	tools := synth.Tools{
		Nix:          newNixClient(g),
		Coreutils:    coreutils,
		NixNinjaTask: taskHelper,
	}

	runner := synth.NewRunner(tools, synth.Config{
		System:   system.Current().String(),
		BuildDir: buildDir,
		StoreDir: g.storeDir,
	})
	if err := runner.ReadBuildDir(ctx, manifest.Graph); err != nil {
		return store.DerivedFile{}, err
	}
	if err := runner.AddExtraInputs(ctx, manifest.Graph, g.extraInputs); err != nil {
		return store.DerivedFile{}, err
	}

	sched := scheduler.New(manifest.Graph, runner)

	target, err := pickTarget(g, manifest)
	if err != nil {
		return store.DerivedFile{}, err
	}
	fid, ok := sched.Lookup(target)
	if !ok {
		return store.DerivedFile{}, fmt.Errorf("unknown path requested: %s", target)
	}
	if err := sched.WantFile(fid); err != nil {
		return store.DerivedFile{}, err
	}
	if err := sched.Run(ctx); err != nil {
		return store.DerivedFile{}, err
	}
	log.Infof(ctx, "generated all derivations for %s", target)

	derivedFile, ok := runner.DerivedFileFor(fid)
	if !ok {
		return store.DerivedFile{}, fmt.Errorf("missing derived file for target %s", target)
	}
	return derivedFile, nil
}

// pickTarget selects the first explicit target, falling back to the
// manifest's first default.
func pickTarget(g *globalConfig, manifest *ninjaparse.Manifest) (string, error) {
	if len(g.targets) > 0 {
		return g.targets[0], nil
	}
	if len(manifest.Defaults) > 0 {
		return manifest.Graph.File(manifest.Defaults[0]).Name, nil
	}
	return "", fmt.Errorf("no target given and %s declares no defaults", g.buildFilename)
}

// nixBuild asks the host tool to realize the target's derived path,
// then drops a symlink at the target's source location pointing at
// the built output.
func nixBuild(ctx context.Context, g *globalConfig, derivedFile store.DerivedFile) error {
	outPaths, err := newNixClient(g).Build(ctx, derivedFile.Path.String())
	if err != nil {
		return err
	}
	if len(outPaths) == 0 {
		return fmt.Errorf("nix build printed no output paths for %s", derivedFile.Path)
	}

	if _, err := os.Lstat(derivedFile.Source); err == nil {
		if err := os.Remove(derivedFile.Source); err != nil {
			return err
		}
	}
	return os.Symlink(outPaths[0], derivedFile.Source)
}

// writeDrvToOut copies the target's .drv file to $out. This supports
// running nix-ninja itself as a Nix builder: the derivation it
// produces becomes the output of the derivation running it.
func writeDrvToOut(derivedFile store.DerivedFile) error {
	out := os.Getenv("out")
	if out == "" {
		return fmt.Errorf("expected $out to be set")
	}
	data, err := os.ReadFile(derivedFile.Path.StorePath().String())
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func runSubtool(ctx context.Context, g *globalConfig, tool string) error {
	switch tool {
	case "list":
		fmt.Println("nix-ninja subtools:")
		fmt.Println("  drv     show Nix derivation generated for a target")
	case "drv":
		derivedFile, err := build(ctx, g)
		if err != nil {
			return err
		}
		out, err := newNixClient(g).DerivationShow(ctx, derivedFile.Path.StorePath())
		if err != nil {
			return err
		}
		fmt.Println(out)
	case "restat", "clean", "cleandead", "compdb":
		// Accepted no-ops so meson-driven builds keep working.
	default:
		return fmt.Errorf("unknown subtool %q; use '-t list' to get a list of available subtools", tool)
	}
	return nil
}
