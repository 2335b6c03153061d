// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package synth translates Ninja build edges into Nix derivations.
// The [Runner] owns the registry of derived files accumulated over a
// run and hands each ready edge to a worker goroutine, which
// assembles a fully closed derivation (inputs, content-addressed
// outputs, environment, sandbox-helper invocation) and submits it to
// the store via "nix derivation add".
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/shlex"
	"github.com/smpdt/nix-ninja/internal/buildscan"
	"github.com/smpdt/nix-ninja/internal/includescan"
	"github.com/smpdt/nix-ninja/internal/ninjagraph"
	"github.com/smpdt/nix-ninja/internal/nixclient"
	"github.com/smpdt/nix-ninja/store"
	"zombiezen.com/go/log"
)

// ErrPhony is returned when a derivation is requested for an edge
// with no command line. The scheduler short-circuits phony edges
// before they reach a worker, so hitting this means a caller bypassed
// the scheduler.
var ErrPhony = errors.New("phony edges do not produce derivations")

// envAllowList names the host environment variables propagated into
// every task. Wrapped compilers from nixpkgs hide implicit
// dependencies in these.
var envAllowList = []string{"NIX_LDFLAGS", "NIX_CFLAGS_COMPILE"}

// envAllowPrefix is the prefix-matched part of the allow-list.
const envAllowPrefix = "NIX_CC_WRAPPER"

// Tools bundles the handles a worker needs to submit derivations. It
// holds configuration only and is shared immutably across workers.
type Tools struct {
	Nix          *nixclient.Client
	Coreutils    store.Path
	NixNinjaTask store.Path
}

// Config configures a [Runner].
type Config struct {
	System   string
	BuildDir string
	StoreDir string
}

// BuildResult is what a worker sends back for one edge.
type BuildResult struct {
	BID          ninjagraph.BuildID
	DerivedFiles []store.DerivedFile
	Err          error
}

// WorkerError wraps an error from a worker with the edge it was
// synthesizing.
type WorkerError struct {
	BID ninjagraph.BuildID
	Err error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("build %d: %v", int(e.BID), e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Runner synthesizes derivations for ready edges on worker
// goroutines and collects their results. All of its maps are mutated
// only from the scheduler's thread; workers receive an owned [task]
// snapshot and communicate exclusively through the results channel.
type Runner struct {
	derivedFiles   map[ninjagraph.FileID]store.DerivedFile
	buildDirInputs map[ninjagraph.FileID]store.DerivedFile
	extraInputs    map[ninjagraph.BuildID][]store.DerivedFile

	results    chan BuildResult
	tools      Tools
	config     Config
	envVars    map[string]string
	storeRegex *regexp.Regexp
}

// NewRunner returns a Runner using tools and config. The host
// environment is captured once, here; workers see this snapshot.
func NewRunner(tools Tools, config Config) *Runner {
	envVars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envVars[k] = v
		}
	}

	return &Runner{
		derivedFiles:   make(map[ninjagraph.FileID]store.DerivedFile),
		buildDirInputs: make(map[ninjagraph.FileID]store.DerivedFile),
		extraInputs:    make(map[ninjagraph.BuildID][]store.DerivedFile),
		results:        make(chan BuildResult),
		tools:          tools,
		config:         config,
		envVars:        envVars,
		storeRegex:     storePathRegexp(config.StoreDir),
	}
}

// storePathRegexp matches store paths under storeDir embedded in
// arbitrary text.
func storePathRegexp(storeDir string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(storeDir) + `/[a-z0-9]{32}-[0-9a-zA-Z+\-._?=]+`)
}

// ReadBuildDir pre-scans the build directory: every regular
// file becomes an opaque derived file exposed both in the general
// registry and in the build-dir inputs map that newTask folds into
// every edge.
func (r *Runner) ReadBuildDir(ctx context.Context, g *ninjagraph.Graph) error {
	entries, err := buildscan.Scan(ctx, r.tools.Nix, r.config.BuildDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fid := r.addDerivedFile(g, e.File, e.RelPath)
		r.buildDirInputs[fid] = e.File
	}
	return nil
}

// AddExtraInputs records per-edge side-channel inputs. Each encoded
// string is "<target>:<path>": the edge producing target gains path
// as an additional input.
func (r *Runner) AddExtraInputs(ctx context.Context, g *ninjagraph.Graph, encoded []string) error {
	for _, enc := range encoded {
		target, extraPath, ok := strings.Cut(enc, ":")
		if !ok || strings.Contains(extraPath, ":") {
			return fmt.Errorf("expected one ':' in extra input %q", enc)
		}

		fid, ok := g.Lookup(target)
		if !ok {
			return fmt.Errorf("could not find target in extra input: %s", target)
		}
		file := g.File(fid)
		if file.Input == ninjagraph.InvalidBuildID {
			return fmt.Errorf("target in extra input is not an output of a build: %s", target)
		}

		df, err := newOpaqueFile(ctx, r.tools.Nix, extraPath)
		if err != nil {
			return err
		}
		r.addDerivedFile(g, df, extraPath)
		r.extraInputs[file.Input] = append(r.extraInputs[file.Input], df)
	}
	return nil
}

// DerivedFileFor returns the derived file registered for fid, if any.
func (r *Runner) DerivedFileFor(fid ninjagraph.FileID) (store.DerivedFile, bool) {
	df, ok := r.derivedFiles[fid]
	return df, ok
}

// Start snapshots bid's edge into a task and synthesizes its
// derivation on a new goroutine. The result arrives via [Runner.Wait].
func (r *Runner) Start(ctx context.Context, g *ninjagraph.Graph, bid ninjagraph.BuildID) error {
	task, err := r.newTask(ctx, g, bid)
	if err != nil {
		return err
	}

	tools := r.tools
	go func() {
		derivedFiles, err := buildTaskDerivation(ctx, tools, task)
		r.results <- BuildResult{BID: bid, DerivedFiles: derivedFiles, Err: err}
	}()
	return nil
}

// Wait blocks for the next worker result. On success it registers the
// returned derived files (both the edge's built outputs and any
// headers discovered during scanning) so downstream edges can
// reference them.
func (r *Runner) Wait(ctx context.Context, g *ninjagraph.Graph) (ninjagraph.BuildID, error) {
	var result BuildResult
	select {
	case result = <-r.results:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if result.Err != nil {
		return result.BID, &WorkerError{BID: result.BID, Err: result.Err}
	}
	for _, df := range result.DerivedFiles {
		r.addDerivedFile(g, df, df.Source)
	}
	return result.BID, nil
}

// addDerivedFile registers df under path's file ID, creating the file
// node if the graph has never seen the path. The registry is
// append-only: an existing registration wins.
func (r *Runner) addDerivedFile(g *ninjagraph.Graph, df store.DerivedFile, path string) ninjagraph.FileID {
	fid := g.AddFile(path)
	if _, ok := r.derivedFiles[fid]; !ok {
		r.derivedFiles[fid] = df
	}
	return fid
}

// task is an owned snapshot of everything a worker needs to
// synthesize one edge's derivation.
type task struct {
	name    string
	system  string
	envVars map[string]string

	buildDir   string
	storeDir   string
	storeRegex *regexp.Regexp

	cmdline string
	desc    string
	deps    string

	outNames []string
	inputs   []store.DerivedFile
	outputs  []store.DerivedOutput
}

func (r *Runner) newTask(ctx context.Context, g *ninjagraph.Graph, bid ninjagraph.BuildID) (*task, error) {
	build := g.Build(bid)

	// Every explicit, implicit, and order-only dependency must be
	// linked into the derivation's source directory.
	inputSet := make(map[string]store.DerivedFile)
	for _, fid := range build.OrderingIns() {
		input, ok := r.derivedFiles[fid]
		if !ok {
			file := g.File(fid)
			if producer := file.Input; producer != ninjagraph.InvalidBuildID && !g.Build(producer).HasCommand() {
				// Phony outputs carry ordering only; there is no file
				// to stage.
				continue
			}
			if strings.HasPrefix(file.Name, r.config.StoreDir) {
				continue
			}
			df, err := newOpaqueFile(ctx, r.tools.Nix, file.Name)
			if err != nil {
				return nil, err
			}
			r.addDerivedFile(g, df, file.Name)
			input = df
		}
		inputSet[input.Source] = input
	}

	if len(build.Outs) == 0 {
		return nil, fmt.Errorf("build %d has no outputs", int(bid))
	}
	primary := g.File(build.Outs[0])
	name := normalizeOutput(primary.Name)

	outNames := make([]string, 0, len(build.Outs))
	outputs := make([]store.DerivedOutput, 0, len(build.Outs))
	for _, fid := range build.Outs {
		file := g.File(fid)
		outNames = append(outNames, file.Name)
		outputs = append(outputs, store.DerivedOutput{
			Placeholder: store.StandardOutputPlaceholder(normalizeOutput(file.Name)),
			Source:      file.Name,
		})
	}

	// The command may reference files generated by the configure
	// step without declaring them; pull any token naming a known file
	// in as an input.
	if build.Cmdline != "" {
		args, err := shlex.Split(build.Cmdline)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", includescan.ErrCommandParse, err)
		}
		for _, arg := range args {
			fid, ok := g.Lookup(arg)
			if !ok {
				continue
			}
			input, ok := r.derivedFiles[fid]
			if !ok {
				if input, ok = r.buildDirInputs[fid]; !ok {
					continue
				}
			}
			inputSet[input.Source] = input
		}
	}

	// Pre-scanned build-directory files are implicit inputs of every
	// task; the Ninja file cannot be trusted to list them.
	for _, input := range r.buildDirInputs {
		inputSet[input.Source] = input
	}

	for _, input := range r.extraInputs[bid] {
		inputSet[input.Source] = input
	}

	inputs := make([]store.DerivedFile, 0, len(inputSet))
	for _, input := range inputSet {
		inputs = append(inputs, input)
	}
	slices.SortFunc(inputs, store.CompareDerivedFile)

	return &task{
		name:       "ninja-build-" + name,
		system:     r.config.System,
		envVars:    r.envVars,
		buildDir:   r.config.BuildDir,
		storeDir:   r.config.StoreDir,
		storeRegex: r.storeRegex,
		cmdline:    build.Cmdline,
		desc:       build.Description,
		deps:       build.Deps,
		outNames:   outNames,
		inputs:     inputs,
		outputs:    outputs,
	}, nil
}

// buildTaskDerivation assembles and submits the derivation for one
// edge, returning the edge's built outputs plus any inputs discovered
// by header scanning.
func buildTaskDerivation(ctx context.Context, tools Tools, task *task) ([]store.DerivedFile, error) {
	if task.cmdline == "" {
		return nil, ErrPhony
	}

	drv := store.NewDerivation(task.name, task.system, tools.NixNinjaTask.String()+"/bin/nix-ninja-task")
	drv.AddArg(task.cmdline)
	if task.desc != "" {
		drv.AddArg("--description=" + task.desc)
	}

	// Propagate the allow-listed host environment into the task,
	// picking up any store paths its values smuggle in.
	for key, value := range task.envVars {
		if !slices.Contains(envAllowList, key) && !strings.HasPrefix(key, envAllowPrefix) {
			continue
		}
		drv.AddEnv(key, value)
		for _, sp := range extractStorePaths(task.storeRegex, value) {
			drv.AddInputSrc(sp.String())
		}
	}

	// Needed by all tasks.
	drv.AddInputSrc(tools.Coreutils.String())
	drv.AddInputSrc(tools.NixNinjaTask.String())

	var encodedInputs []string
	for _, input := range task.inputs {
		addDerivedPath(drv, input)
		encodedInputs = append(encodedInputs, input.Encode())
	}

	// deps=gcc means the edge relies on gcc depfiles for implicit
	// header dependencies; discover them ourselves instead.
	var discovered []store.DerivedFile
	if task.deps == "gcc" {
		var err error
		discovered, encodedInputs, err = discoverHeaders(ctx, tools, task, drv, encodedInputs)
		if err != nil {
			return nil, err
		}
	}
	drv.AddEnv("NIX_NINJA_INPUTS", strings.Join(encodedInputs, " "))

	var encodedOutputs []string
	for _, output := range task.outputs {
		drv.AddCAOutput(normalizeOutput(output.Source), store.SHA256, store.NAR)
		encodedOutputs = append(encodedOutputs, output.Encode())
	}
	drv.AddEnv("NIX_NINJA_OUTPUTS", strings.Join(encodedOutputs, " "))

	// $PATH carries coreutils plus the store path providing the
	// command's binary.
	fields := strings.Fields(task.cmdline)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no command found in cmdline %q", task.cmdline)
	}
	cmdlinePath, err := WhichStorePath(fields[0])
	if err != nil {
		return nil, err
	}
	drv.AddInputSrc(cmdlinePath.String())
	drv.AddEnv("PATH", tools.Coreutils.String()+"/bin:"+cmdlinePath.String()+"/bin")

	// The cmdline may refer to hardcoded store paths as they were
	// found by the build.ninja generator (e.g. meson).
	for _, sp := range extractStorePaths(task.storeRegex, task.cmdline) {
		drv.AddInputSrc(sp.String())
	}

	drvPath, err := tools.Nix.DerivationAdd(ctx, drv)
	if err != nil {
		return nil, err
	}
	log.Debugf(ctx, "wrote %s for %s", drvPath, task.name)

	// The edge's outputs become built derived files that dependent
	// edges reference through inputDrvs.
	for _, outName := range task.outNames {
		discovered = append(discovered, store.DerivedFile{
			Path:   store.Built(drvPath, normalizeOutput(outName)),
			Source: outName,
		})
	}
	return discovered, nil
}

// discoverHeaders runs the include scanner over the task's opaque
// inputs and folds every reachable header into the derivation,
// returning the newly registered files so the scheduler can record
// them for downstream edges.
func discoverHeaders(ctx context.Context, tools Tools, task *task, drv *store.Derivation, encodedInputs []string) (discovered []store.DerivedFile, _ []string, err error) {
	fileSet := make(map[string]struct{})
	var files []string
	for _, input := range task.inputs {
		// Only already-materialized inputs are visible to gcc.
		if !store.IsOpaque(input.Path) {
			continue
		}
		if _, ok := fileSet[input.Source]; !ok {
			fileSet[input.Source] = struct{}{}
			files = append(files, input.Source)
		}
	}

	cmd, err := includescan.ParseCommand(task.cmdline)
	if err != nil {
		return nil, nil, err
	}
	includes, err := includescan.Discover(ctx, files, cmd.IncludeDirs)
	if err != nil {
		return nil, nil, err
	}

	for _, include := range includes {
		// A header under the store is attributed to its enclosing
		// store path root.
		if rel, ok := strings.CutPrefix(include, task.storeDir+"/"); ok {
			root, _, _ := strings.Cut(rel, "/")
			if root != "" {
				drv.AddInputSrc(task.storeDir + "/" + root)
			}
			continue
		}

		relInclude, ok := ninjagraph.RelativeFrom(include, task.buildDir)
		if !ok {
			relInclude = include
		}
		path := ninjagraph.CanonPath(relInclude)
		if _, ok := fileSet[path]; ok {
			continue
		}

		df, err := newOpaqueFile(ctx, tools.Nix, path)
		if err != nil {
			return nil, nil, err
		}
		encodedInputs = append(encodedInputs, df.Encode())
		addDerivedPath(drv, df)
		discovered = append(discovered, df)
	}
	return discovered, encodedInputs, nil
}

// WhichStorePath resolves binaryName through $PATH and symlinks to
// the store path containing its bin/ directory.
func WhichStorePath(binaryName string) (store.Path, error) {
	binaryPath, err := exec.LookPath(binaryName)
	if err != nil {
		return store.Path{}, fmt.Errorf("failed to find %s: %w", binaryName, err)
	}
	abs, err := filepath.Abs(binaryPath)
	if err != nil {
		return store.Path{}, err
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return store.Path{}, err
	}

	// bin/<binary> -> the containing store path.
	storePath := filepath.Dir(filepath.Dir(canonical))
	return store.NewPath(storePath)
}

// extractStorePaths returns every extant, non-derivation store path
// that re matches in s. Matches that fail validation or do not exist
// on disk are false positives from unrelated text and are skipped.
func extractStorePaths(re *regexp.Regexp, s string) []store.Path {
	var paths []store.Path
	for _, m := range re.FindAllString(s, -1) {
		sp, err := store.NewPath(m)
		if err != nil || sp.IsDerivation() {
			continue
		}
		if _, err := os.Stat(sp.String()); err != nil {
			continue
		}
		paths = append(paths, sp)
	}
	return paths
}

// newOpaqueFile adds path's contents to the store and pairs the
// resulting store path with path as the build-tree source.
func newOpaqueFile(ctx context.Context, client *nixclient.Client, path string) (store.DerivedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return store.DerivedFile{}, err
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return store.DerivedFile{}, err
	}
	sp, err := client.StoreAdd(ctx, canonical)
	if err != nil {
		return store.DerivedFile{}, err
	}
	return store.DerivedFile{Path: store.Opaque(sp), Source: path}, nil
}

func addDerivedPath(drv *store.Derivation, df store.DerivedFile) {
	if store.IsOpaque(df.Path) {
		drv.AddInputSrc(df.Path.StorePath().String())
	} else {
		drv.AddInputDrv(df.Path.StorePath().String(), []string{store.Output(df.Path)})
	}
}

// normalizeOutput makes a Ninja output path legal as a derivation
// output name: outputs are suffixed to the derivation store path, so
// they cannot contain '/'.
func normalizeOutput(output string) string {
	return strings.ReplaceAll(output, "/", "-")
}
