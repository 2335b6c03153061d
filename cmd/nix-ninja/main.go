// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// nix-ninja is a drop-in ninja front end that compiles a Ninja build
// graph into Nix dynamic derivations instead of running the commands
// itself, then asks the host nix tool to build the requested target.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"

	"github.com/smpdt/nix-ninja/internal/nixclient"
)

// ninjaVersion is printed by --version. Meson probes the ninja binary
// on its PATH and refuses versions older than 1.8.2.
const ninjaVersion = "1.8.2"

type globalConfig struct {
	dir           string
	buildFilename string
	tool          string
	jobs          int
	loadAverage   float64
	verbose       bool
	printVersion  bool
	storeDir      string
	nixTool       string
	writeDrvToOut bool
	extraInputs   commaSeparatedFlag
	targets       []string
}

func main() {
	g := &globalConfig{
		writeDrvToOut: os.Getenv("NIX_NINJA_DRV") != "",
	}
	if v := os.Getenv("NIX_NINJA_EXTRA_INPUTS"); v != "" {
		g.extraInputs.Set(v)
	}
	rootCommand := &cobra.Command{
		Use:           "nix-ninja [options] [TARGET [...]]",
		Short:         "incremental compilation of Ninja build files via Nix dynamic derivations",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags := rootCommand.Flags()
	flags.StringVarP(&g.dir, "chdir", "C", "", "change to `dir` before doing anything else")
	flags.StringVarP(&g.buildFilename, "file", "f", "build.ninja", "input build `file`")
	flags.StringVarP(&g.tool, "tool", "t", "", "run a `subtool` (use '-t list' to list subtools)")
	flags.IntVarP(&g.jobs, "jobs", "j", 0, "run N jobs in parallel (accepted for compatibility)")
	flags.Float64VarP(&g.loadAverage, "load-average", "l", 0, "do not start new jobs above load average N (accepted for compatibility)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "show all command lines while building")
	flags.BoolVar(&g.printVersion, "version", false, "print ninja version")
	flags.StringVar(&g.storeDir, "store-dir", envOr("NIX_STORE", "/nix/store"), "`path` to the Nix store directory")
	flags.StringVar(&g.nixTool, "nix-tool", envOr("NIX_TOOL", "nix"), "`name` of the nix executable")
	flags.BoolVar(&g.writeDrvToOut, "write-drv-to-out", g.writeDrvToOut, "copy the target's .drv file to $out instead of building it")
	flags.Var(&g.extraInputs, "extra-inputs", "additional \"<target>:<path>\" inputs to stage for specific edges, comma-separated; applies only to the edge producing the named target")
	flags.MarkHidden("jobs")
	flags.MarkHidden("load-average")
	flags.MarkHidden("write-drv-to-out")
	showDebug := flags.Bool("debug", false, "show debugging output")

	rootCommand.RunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug || g.verbose)
		g.targets = args
		return run(cmd.Context(), g)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, g *globalConfig) error {
	if g.printVersion {
		fmt.Println(ninjaVersion)
		return nil
	}

	if g.dir != "" {
		if err := os.Chdir(g.dir); err != nil {
			return err
		}
	}

	if g.tool != "" {
		return runSubtool(ctx, g, g.tool)
	}

	derivedFile, err := build(ctx, g)
	if err != nil {
		return err
	}
	if g.writeDrvToOut {
		return writeDrvToOut(derivedFile)
	}
	return nixBuild(ctx, g, derivedFile)
}

func newNixClient(g *globalConfig) *nixclient.Client {
	return nixclient.New(nixclient.Config{NixTool: g.nixTool})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "nix-ninja: ", log.StdFlags, nil),
		})
	})
}
