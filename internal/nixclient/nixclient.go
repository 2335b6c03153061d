// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package nixclient bridges to the host's "nix" binary, the only
// component in this repository permitted to mutate the Nix store.
// Every operation shells out to a subprocess; there is no in-process
// store implementation here.
package nixclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/smpdt/nix-ninja/store"
	"zombiezen.com/go/log"
)

// Config configures how the host tool is invoked.
type Config struct {
	// NixTool is the path to (or name of) the nix executable.
	NixTool string

	// ExtraArgs are passed to the tool before any subcommand-specific
	// arguments, e.g. "--extra-experimental-features".
	ExtraArgs []string
}

// DefaultConfig returns the configuration used when the front end is not
// told otherwise: the "nix" binary found on PATH, with no extra
// arguments.
func DefaultConfig() Config {
	return Config{NixTool: "nix"}
}

// Client invokes the host tool's subcommands.
type Client struct {
	config Config
}

// New returns a [Client] using config.
func New(config Config) *Client {
	return &Client{config: config}
}

// ToolError reports a non-zero exit from a host tool invocation, per the
// HostToolError error kind: callers get the arguments used and the
// surfaced stderr.
type ToolError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("nix %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("nix %s: %v:\n%s", strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// StoreAdd runs "nix store add <path>" and parses the resulting store
// path from stdout.
func (c *Client) StoreAdd(ctx context.Context, path string) (store.Path, error) {
	stdout, err := c.run(ctx, "store", "add", path)
	if err != nil {
		return store.Path{}, err
	}
	return store.NewPath(strings.TrimSpace(stdout))
}

// DerivationAdd runs "nix derivation add" with drv's JSON encoding piped
// to stdin, and parses the resulting .drv store path from stdout.
func (c *Client) DerivationAdd(ctx context.Context, drv *store.Derivation) (store.Path, error) {
	payload, err := json.Marshal(drv)
	if err != nil {
		return store.Path{}, fmt.Errorf("derivation add %s: %w", drv.Name, err)
	}

	args := c.fullArgs("derivation", "add")
	cmd := exec.CommandContext(ctx, c.config.NixTool, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debugf(ctx, "nix %s", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return store.Path{}, &ToolError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return store.NewPath(strings.TrimSpace(stdout.String()))
}

// DerivationShow runs "nix derivation show <drv>" and returns its raw
// JSON output, unparsed: the host tool's own serialization is
// authoritative and is passed through verbatim to callers such as the
// "drv" subtool.
func (c *Client) DerivationShow(ctx context.Context, drvPath store.Path) (string, error) {
	return c.run(ctx, "derivation", "show", drvPath.String())
}

// Build runs "nix build -L --no-link --print-out-paths <installable>"
// and returns the printed output path(s), one per line.
func (c *Client) Build(ctx context.Context, installable string) ([]string, error) {
	stdout, err := c.run(ctx, "build", "-L", "--no-link", "--print-out-paths", installable)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (c *Client) fullArgs(args ...string) []string {
	full := make([]string, 0, len(c.config.ExtraArgs)+len(args))
	full = append(full, c.config.ExtraArgs...)
	full = append(full, args...)
	return full
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	full := c.fullArgs(args...)
	cmd := exec.CommandContext(ctx, c.config.NixTool, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debugf(ctx, "nix %s", strings.Join(full, " "))
	if err := cmd.Run(); err != nil {
		return "", &ToolError{Args: full, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}
