// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package ninjaparse

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/smpdt/nix-ninja/internal/ninjagraph"
)

const helloManifest = `
# A meson-style manifest.
cxx = g++
cflags = -Wall -O2

rule cxx_COMPILER
  command = $cxx $cflags -c $in -o $out
  description = Compiling $out
  deps = gcc

rule link
  command = $cxx $in -o $out

build hello.o: cxx_COMPILER main.cpp | config.h || gen_dir
build hello: link hello.o

build all: phony hello

default all
`

func TestParse(t *testing.T) {
	m, err := Parse("build.ninja", []byte(helloManifest))
	if err != nil {
		t.Fatal(err)
	}
	g := m.Graph

	if got, want := len(g.Builds), 3; got != want {
		t.Fatalf("len(Builds) = %d; want %d", got, want)
	}

	compile := g.Build(0)
	if got, want := compile.Cmdline, "g++ -Wall -O2 -c main.cpp -o hello.o"; got != want {
		t.Errorf("compile.Cmdline = %q; want %q", got, want)
	}
	if got, want := compile.Description, "Compiling hello.o"; got != want {
		t.Errorf("compile.Description = %q; want %q", got, want)
	}
	if got, want := compile.Deps, "gcc"; got != want {
		t.Errorf("compile.Deps = %q; want %q", got, want)
	}

	wantIns := []string{"main.cpp", "config.h", "gen_dir"}
	var gotIns []string
	for _, fid := range compile.OrderingIns() {
		gotIns = append(gotIns, g.File(fid).Name)
	}
	if diff := cmp.Diff(wantIns, gotIns); diff != "" {
		t.Errorf("compile.OrderingIns() (-want +got):\n%s", diff)
	}
	if got, want := len(compile.Explicit), 1; got != want {
		t.Errorf("len(compile.Explicit) = %d; want %d", got, want)
	}
	if got, want := len(compile.Implicit), 1; got != want {
		t.Errorf("len(compile.Implicit) = %d; want %d", got, want)
	}
	if got, want := len(compile.OrderOnly), 1; got != want {
		t.Errorf("len(compile.OrderOnly) = %d; want %d", got, want)
	}

	phony := g.Build(2)
	if phony.HasCommand() {
		t.Errorf("phony edge has command %q; want none", phony.Cmdline)
	}

	if got, want := len(m.Defaults), 1; got != want {
		t.Fatalf("len(Defaults) = %d; want %d", got, want)
	}
	if got, want := g.File(m.Defaults[0]).Name, "all"; got != want {
		t.Errorf("default = %q; want %q", got, want)
	}
}

func TestParseBackEdges(t *testing.T) {
	m, err := Parse("build.ninja", []byte(helloManifest))
	if err != nil {
		t.Fatal(err)
	}
	g := m.Graph

	fid, ok := g.Lookup("hello.o")
	if !ok {
		t.Fatal("hello.o not registered")
	}
	file := g.File(fid)
	if got, want := file.Input, ninjagraph.BuildID(0); got != want {
		t.Errorf("hello.o Input = %d; want %d", got, want)
	}
	if got, want := len(file.Dependents), 1; got != want {
		t.Fatalf("hello.o has %d dependents; want %d", got, want)
	}
	if got, want := file.Dependents[0], ninjagraph.BuildID(1); got != want {
		t.Errorf("hello.o dependent = %d; want %d", got, want)
	}
}

func TestParseLineContinuation(t *testing.T) {
	manifest := strings.Join([]string{
		"rule r",
		"  command = echo $",
		"one $",
		"two > $out",
		"build out.txt: r",
		"",
	}, "\n")
	m, err := Parse("build.ninja", []byte(manifest))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.Graph.Build(0).Cmdline, "echo one two > out.txt"; got != want {
		t.Errorf("Cmdline = %q; want %q", got, want)
	}
}

func TestParseEscapes(t *testing.T) {
	manifest := strings.Join([]string{
		"rule r",
		"  command = touch $out",
		"build a$ b.txt: r in$$put.txt",
		"",
	}, "\n")
	m, err := Parse("build.ninja", []byte(manifest))
	if err != nil {
		t.Fatal(err)
	}
	g := m.Graph
	if _, ok := g.Lookup("a b.txt"); !ok {
		t.Error(`output "a b.txt" not registered`)
	}
	if _, ok := g.Lookup("in$put.txt"); !ok {
		t.Error(`input "in$put.txt" not registered`)
	}
}

func TestParseBuildVariableOverride(t *testing.T) {
	manifest := strings.Join([]string{
		"rule r",
		"  command = run $flags $in > $out",
		"  description = generic",
		"build out.txt: r in.txt",
		"  flags = -x",
		"  description = special",
		"",
	}, "\n")
	m, err := Parse("build.ninja", []byte(manifest))
	if err != nil {
		t.Fatal(err)
	}
	b := m.Graph.Build(0)
	if got, want := b.Cmdline, "run -x in.txt > out.txt"; got != want {
		t.Errorf("Cmdline = %q; want %q", got, want)
	}
	if got, want := b.Description, "special"; got != want {
		t.Errorf("Description = %q; want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"unknown rule", "build out: nosuchrule in\n"},
		{"missing colon", "rule r\n  command = c\nbuild out r in\n"},
		{"duplicate rule", "rule r\n  command = a\nrule r\n  command = b\n"},
		{"subninja", "subninja other.ninja\n"},
		{"stray indent", "  command = c\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse("build.ninja", []byte(tc.manifest)); err == nil {
				t.Error("Parse succeeded; want error")
			}
		})
	}
}
