// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package ninjagraph provides the dense-indexed build graph consumed by
// the scheduler and the task synthesizer: Files and Builds addressed by
// small integer IDs, mirroring the shape of the external Ninja-graph
// crate the original implementation built on. It is not a Ninja-grammar
// parser — see package ninjaparse for the (intentionally reduced)
// textual loader.
package ninjagraph

import "fmt"

// FileID indexes into a Graph's files.
type FileID int

// BuildID indexes into a Graph's builds.
type BuildID int

// File is a node in the build graph: either a source file (Input ==
// InvalidBuildID) or the output of exactly one Build.
type File struct {
	Name       string
	Input      BuildID // InvalidBuildID if this file has no producing build
	Dependents []BuildID
}

// InvalidBuildID marks a File with no producing build.
const InvalidBuildID BuildID = -1

// Build is one Ninja build edge: a command that consumes inputs and
// produces outputs.
type Build struct {
	Explicit    []FileID
	Implicit    []FileID
	OrderOnly   []FileID
	Validations []FileID
	Outs        []FileID

	Cmdline     string // empty for phony edges
	Description string
	Deps        string // "gcc" enables header discovery, else ""
}

// HasCommand reports whether b is a real (non-phony) edge.
func (b *Build) HasCommand() bool {
	return b.Cmdline != ""
}

// Graph is the full dense-indexed build graph.
type Graph struct {
	Files  []File
	Builds []Build

	byName map[string]FileID
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{byName: make(map[string]FileID)}
}

// AddFile registers a new file named name with no producing build and
// returns its ID. Names are canonicalized first; registering a name
// twice returns the existing ID.
func (g *Graph) AddFile(name string) FileID {
	name = CanonPath(name)
	if fid, ok := g.byName[name]; ok {
		return fid
	}
	g.Files = append(g.Files, File{Name: name, Input: InvalidBuildID})
	fid := FileID(len(g.Files) - 1)
	if g.byName == nil {
		g.byName = make(map[string]FileID)
	}
	g.byName[name] = fid
	return fid
}

// Lookup returns the ID of the file named name, canonicalized, if one
// is registered.
func (g *Graph) Lookup(name string) (FileID, bool) {
	fid, ok := g.byName[CanonPath(name)]
	return fid, ok
}

// File returns the file at id.
func (g *Graph) File(id FileID) *File {
	return &g.Files[id]
}

// AddBuild registers build and wires up File.Input/Dependents back-edges
// for its ordering inputs and outputs, returning its ID.
func (g *Graph) AddBuild(build Build) BuildID {
	bid := BuildID(len(g.Builds))
	g.Builds = append(g.Builds, build)

	for _, fid := range g.Builds[bid].OrderingIns() {
		g.Files[fid].Dependents = append(g.Files[fid].Dependents, bid)
	}
	for _, fid := range build.Outs {
		g.Files[fid].Input = bid
	}
	return bid
}

// Build returns the build at id.
func (g *Graph) Build(id BuildID) *Build {
	return &g.Builds[id]
}

// OrderingIns returns the union of explicit, implicit, and order-only
// inputs, in that order — the set that determines build readiness and
// must all be staged into the task's source directory.
func (b *Build) OrderingIns() []FileID {
	ins := make([]FileID, 0, len(b.Explicit)+len(b.Implicit)+len(b.OrderOnly))
	ins = append(ins, b.Explicit...)
	ins = append(ins, b.Implicit...)
	ins = append(ins, b.OrderOnly...)
	return ins
}

// ValidationIns returns the build's validation-only inputs.
func (b *Build) ValidationIns() []FileID {
	return b.Validations
}

// BuildState is the five-state machine a build edge progresses through
// as the scheduler dispatches it.
type BuildState int

const (
	// Unneeded is the default initial state for builds not required by
	// the current target set.
	Unneeded BuildState = iota
	// Want marks builds in the topological sort of the desired targets.
	Want
	// Ready marks builds whose dependencies have all completed.
	Ready
	// Running marks a build whose derivation is being synthesized.
	Running
	// Done marks a build whose derivation has been written to the store.
	Done
)

func (s BuildState) String() string {
	switch s {
	case Unneeded:
		return "unneeded"
	case Want:
		return "want"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("BuildState(%d)", int(s))
	}
}
