// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package scheduler drives a topological walk of the build graph. A
// state machine tracks every edge's progress; edges whose dependencies
// have all completed are handed to the [TaskRunner], and completion
// results are folded back in to wake dependents.
package scheduler

import (
	"context"
	"strings"

	"github.com/smpdt/nix-ninja/internal/ninjagraph"
	"github.com/smpdt/nix-ninja/internal/sets"
	"zombiezen.com/go/log"
)

// TaskRunner starts work for ready edges and reports completions.
// *synth.Runner is the production implementation.
type TaskRunner interface {
	// Start begins synthesizing the derivation for bid. It must not
	// block on the work itself.
	Start(ctx context.Context, g *ninjagraph.Graph, bid ninjagraph.BuildID) error

	// Wait blocks until some previously started edge completes and
	// returns its ID, or an error if the edge failed.
	Wait(ctx context.Context, g *ninjagraph.Graph) (ninjagraph.BuildID, error)
}

// CycleError reports a dependency cycle, naming the chain of files
// that closes it.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Chain, " -> ")
}

// buildStates is the state machine for build edges. total_pending and
// the ready queue are derived data maintained by set; callers never
// touch them directly.
type buildStates struct {
	states       []ninjagraph.BuildState
	totalPending int
	ready        []ninjagraph.BuildID
}

func newBuildStates(n int) *buildStates {
	return &buildStates{states: make([]ninjagraph.BuildState, n)}
}

func (bs *buildStates) get(bid ninjagraph.BuildID) ninjagraph.BuildState {
	return bs.states[bid]
}

func (bs *buildStates) set(bid ninjagraph.BuildID, state ninjagraph.BuildState) {
	prev := bs.states[bid]
	bs.states[bid] = state

	if prev == ninjagraph.Unneeded {
		bs.totalPending++
	}
	switch state {
	case ninjagraph.Ready:
		bs.ready = append(bs.ready, bid)
	case ninjagraph.Done:
		bs.totalPending--
	}
}

func (bs *buildStates) unfinished() bool {
	return bs.totalPending > 0
}

func (bs *buildStates) popReady() (ninjagraph.BuildID, bool) {
	if len(bs.ready) == 0 {
		return 0, false
	}
	bid := bs.ready[0]
	bs.ready = bs.ready[1:]
	return bid, true
}

// wantFile marks fid's producing edge (if any) as wanted, recursing
// through its dependencies. It reports whether the file is already
// available, i.e. it has no producing edge or that edge is Done.
func (bs *buildStates) wantFile(g *ninjagraph.Graph, stack []ninjagraph.FileID, fid ninjagraph.FileID) (bool, error) {
	for i, sid := range stack {
		if sid == fid {
			chain := make([]string, 0, len(stack)-i+1)
			for _, cid := range stack[i:] {
				chain = append(chain, g.File(cid).Name)
			}
			chain = append(chain, g.File(fid).Name)
			return false, &CycleError{Chain: chain}
		}
	}

	ready := true
	if bid := g.File(fid).Input; bid != ninjagraph.InvalidBuildID {
		state, err := bs.wantBuild(g, append(stack, fid), bid)
		if err != nil {
			return false, err
		}
		if state != ninjagraph.Done {
			ready = false
		}
	}
	return ready, nil
}

func (bs *buildStates) wantBuild(g *ninjagraph.Graph, stack []ninjagraph.FileID, bid ninjagraph.BuildID) (ninjagraph.BuildState, error) {
	if state := bs.get(bid); state != ninjagraph.Unneeded {
		return state, nil // already visited
	}

	build := g.Build(bid)
	state := ninjagraph.Want

	ready := true
	for _, fid := range build.OrderingIns() {
		fileReady, err := bs.wantFile(g, stack, fid)
		if err != nil {
			return 0, err
		}
		if !fileReady {
			ready = false
		}
	}
	if ready {
		state = ninjagraph.Ready
	}
	bs.set(bid, state)

	// Validation inputs are walked so their producers get built, but
	// they never hold up this edge.
	for _, fid := range build.ValidationIns() {
		if _, err := bs.wantFile(g, stack, fid); err != nil {
			return 0, err
		}
	}
	return state, nil
}

// Scheduler topologically dispatches a build graph's wanted edges to a
// TaskRunner.
type Scheduler struct {
	graph  *ninjagraph.Graph
	runner TaskRunner
	states *buildStates
}

// New returns a Scheduler over g dispatching to runner.
func New(g *ninjagraph.Graph, runner TaskRunner) *Scheduler {
	return &Scheduler{
		graph:  g,
		runner: runner,
		states: newBuildStates(len(g.Builds)),
	}
}

// Lookup resolves a target name to its file ID.
func (s *Scheduler) Lookup(name string) (ninjagraph.FileID, bool) {
	return s.graph.Lookup(name)
}

// WantFile marks fid and its transitive dependencies as wanted,
// promoting immediately runnable edges to Ready. It fails with a
// [CycleError] if the dependency graph is cyclic.
func (s *Scheduler) WantFile(fid ninjagraph.FileID) error {
	_, err := s.states.wantFile(s.graph, nil, fid)
	return err
}

// recheckReady reports whether build's generated inputs have all
// completed.
func (s *Scheduler) recheckReady(build *ninjagraph.Build) bool {
	for _, fid := range build.OrderingIns() {
		bid := s.graph.File(fid).Input
		if bid == ninjagraph.InvalidBuildID {
			// Only generated inputs contribute to readiness.
			continue
		}
		if s.states.get(bid) != ninjagraph.Done {
			return false
		}
	}
	return true
}

// readyDependents marks bid Done and promotes any of its dependents
// whose inputs are now all complete.
func (s *Scheduler) readyDependents(bid ninjagraph.BuildID) {
	build := s.graph.Build(bid)
	s.states.set(bid, ninjagraph.Done)

	dependents := sets.New[ninjagraph.BuildID]()
	for _, fid := range build.Outs {
		for _, dep := range s.graph.File(fid).Dependents {
			if s.states.get(dep) != ninjagraph.Want {
				continue
			}
			dependents.Add(dep)
		}
	}

	for dep := range dependents.All() {
		if !s.recheckReady(s.graph.Build(dep)) {
			continue
		}
		s.states.set(dep, ninjagraph.Ready)
	}
}

// Run drives the dispatch loop until every wanted edge is Done. Phony
// edges complete synthetically without reaching the runner; real
// edges run on the runner's workers, and a worker error aborts the
// whole run.
func (s *Scheduler) Run(ctx context.Context) error {
	for s.states.unfinished() {
		madeProgress := false
		for {
			bid, ok := s.states.popReady()
			if !ok {
				break
			}
			build := s.graph.Build(bid)
			if !build.HasCommand() {
				log.Debugf(ctx, "phony edge %d done", int(bid))
				s.readyDependents(bid)
				madeProgress = true
				continue
			}
			s.states.set(bid, ninjagraph.Running)
			if err := s.runner.Start(ctx, s.graph, bid); err != nil {
				return err
			}
			madeProgress = true
		}
		if madeProgress {
			continue
		}

		bid, err := s.runner.Wait(ctx, s.graph)
		if err != nil {
			return err
		}
		s.readyDependents(bid)
	}
	return nil
}
