// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// nix-ninja-task stages and runs a single synthesized build task. It
// is not meant to be invoked by hand: the store daemon executes it as
// the builder of every derivation nix-ninja writes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"

	"github.com/smpdt/nix-ninja/internal/sandbox"
)

func main() {
	config := sandbox.Config{}
	rootCommand := &cobra.Command{
		Use:           "nix-ninja-task [options] CMDLINE",
		Short:         "stage inputs and run one nix-ninja build task",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCommand.Flags().String("store-dir", envOr("NIX_STORE", "/nix/store"), "`path` to the Nix store directory")
	rootCommand.Flags().StringVar(&config.BuildDir, "build-dir", "/build/source/build", "directory `prefix` to recreate sources via symlinks")
	rootCommand.Flags().StringVar(&config.Description, "description", "", "build target description")
	rootCommand.Flags().StringVar(&config.Inputs, "inputs", os.Getenv("NIX_NINJA_INPUTS"), "encoded derived files to stage into the source directory")
	rootCommand.Flags().StringVar(&config.Outputs, "outputs", os.Getenv("NIX_NINJA_OUTPUTS"), "encoded derived files that build outputs are copied to")

	exitCode := 0
	rootCommand.RunE = func(cmd *cobra.Command, args []string) error {
		config.Cmdline = args[0]
		var err error
		exitCode, err = sandbox.Run(cmd.Context(), config)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nix-ninja-task: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
