// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/smpdt/nix-ninja/internal/ninjagraph"
)

// fakeRunner completes started builds in FIFO order, recording the
// order in which the scheduler started them.
type fakeRunner struct {
	started []ninjagraph.BuildID
	pending []ninjagraph.BuildID
	failOn  ninjagraph.BuildID
	fail    bool
}

func (r *fakeRunner) Start(ctx context.Context, g *ninjagraph.Graph, bid ninjagraph.BuildID) error {
	r.started = append(r.started, bid)
	r.pending = append(r.pending, bid)
	return nil
}

func (r *fakeRunner) Wait(ctx context.Context, g *ninjagraph.Graph) (ninjagraph.BuildID, error) {
	if len(r.pending) == 0 {
		return 0, fmt.Errorf("wait called with nothing pending")
	}
	bid := r.pending[0]
	r.pending = r.pending[1:]
	if r.fail && bid == r.failOn {
		return bid, errors.New("worker failed")
	}
	return bid, nil
}

// chainGraph builds a.c -> a.o -> a.out: two edges in a line.
func chainGraph(t *testing.T) *ninjagraph.Graph {
	t.Helper()
	g := ninjagraph.New()
	src := g.AddFile("a.c")
	obj := g.AddFile("a.o")
	bin := g.AddFile("a.out")
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{src},
		Outs:     []ninjagraph.FileID{obj},
		Cmdline:  "cc -c a.c -o a.o",
	})
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{obj},
		Outs:     []ninjagraph.FileID{bin},
		Cmdline:  "cc a.o -o a.out",
	})
	return g
}

func TestRunDispatchOrder(t *testing.T) {
	g := chainGraph(t)
	runner := new(fakeRunner)
	s := New(g, runner)

	fid, ok := s.Lookup("a.out")
	if !ok {
		t.Fatal("a.out not in graph")
	}
	if err := s.WantFile(fid); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []ninjagraph.BuildID{0, 1}
	if diff := cmp.Diff(want, runner.started); diff != "" {
		t.Errorf("start order (-want +got):\n%s", diff)
	}
}

func TestRunDiamond(t *testing.T) {
	// lib.o and app.o both depend on gen.h; link depends on both.
	g := ninjagraph.New()
	genSrc := g.AddFile("gen.py")
	genH := g.AddFile("gen.h")
	libO := g.AddFile("lib.o")
	appO := g.AddFile("app.o")
	out := g.AddFile("app")
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{genSrc},
		Outs:     []ninjagraph.FileID{genH},
		Cmdline:  "python gen.py > gen.h",
	})
	g.AddBuild(ninjagraph.Build{
		Implicit: []ninjagraph.FileID{genH},
		Outs:     []ninjagraph.FileID{libO},
		Cmdline:  "cc -c lib.c",
	})
	g.AddBuild(ninjagraph.Build{
		Implicit: []ninjagraph.FileID{genH},
		Outs:     []ninjagraph.FileID{appO},
		Cmdline:  "cc -c app.c",
	})
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{libO, appO},
		Outs:     []ninjagraph.FileID{out},
		Cmdline:  "cc lib.o app.o -o app",
	})

	runner := new(fakeRunner)
	s := New(g, runner)
	fid, _ := s.Lookup("app")
	if err := s.WantFile(fid); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got, want := len(runner.started), 4; got != want {
		t.Fatalf("started %d builds; want %d", got, want)
	}
	if runner.started[0] != 0 {
		t.Errorf("first build = %d; want the generator (0)", runner.started[0])
	}
	if last := runner.started[3]; last != 3 {
		t.Errorf("last build = %d; want the link (3)", last)
	}
}

func TestWantFileCycle(t *testing.T) {
	g := ninjagraph.New()
	a := g.AddFile("A")
	b := g.AddFile("B")
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{b},
		Outs:     []ninjagraph.FileID{a},
		Cmdline:  "make A",
	})
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{a},
		Outs:     []ninjagraph.FileID{b},
		Cmdline:  "make B",
	})

	s := New(g, new(fakeRunner))
	err := s.WantFile(a)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("WantFile(A) error = %v; want CycleError", err)
	}
	want := []string{"A", "B", "A"}
	if diff := cmp.Diff(want, cycleErr.Chain); diff != "" {
		t.Errorf("cycle chain (-want +got):\n%s", diff)
	}
}

func TestRunPhony(t *testing.T) {
	// all -> (phony) -> a.out -> a.o -> a.c
	g := chainGraph(t)
	bin, _ := g.Lookup("a.out")
	all := g.AddFile("all")
	g.AddBuild(ninjagraph.Build{
		Explicit: []ninjagraph.FileID{bin},
		Outs:     []ninjagraph.FileID{all},
	})

	runner := new(fakeRunner)
	s := New(g, runner)
	if err := s.WantFile(all); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The phony edge completes without reaching the runner.
	want := []ninjagraph.BuildID{0, 1}
	if diff := cmp.Diff(want, runner.started); diff != "" {
		t.Errorf("start order (-want +got):\n%s", diff)
	}
}

func TestRunWorkerErrorAborts(t *testing.T) {
	g := chainGraph(t)
	runner := &fakeRunner{fail: true, failOn: 0}
	s := New(g, runner)
	fid, _ := s.Lookup("a.out")
	if err := s.WantFile(fid); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded; want worker error")
	}
	if got, want := len(runner.started), 1; got != want {
		t.Errorf("started %d builds; want %d (no dispatch past the failure)", got, want)
	}
}

func TestWantFilePromotesLeavesToReady(t *testing.T) {
	g := chainGraph(t)
	s := New(g, new(fakeRunner))
	fid, _ := s.Lookup("a.out")
	if err := s.WantFile(fid); err != nil {
		t.Fatal(err)
	}
	if got, want := s.states.get(0), ninjagraph.Ready; got != want {
		t.Errorf("leaf edge state = %v; want %v", got, want)
	}
	if got, want := s.states.get(1), ninjagraph.Want; got != want {
		t.Errorf("dependent edge state = %v; want %v", got, want)
	}
	if got, want := s.states.totalPending, 2; got != want {
		t.Errorf("totalPending = %d; want %d", got, want)
	}
}
