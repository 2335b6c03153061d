// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package includescan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
		want    Command
	}{
		{
			name:    "basic command",
			cmdline: "g++ -Iinclude -I. -Wall -O2 -std=c++14 -DDEBUG -o output.o -c src/main.cpp",
			want: Command{
				Compiler:    "g++",
				IncludeDirs: []string{"include", "."},
				Std:         "c++14",
				Defines:     []string{"DEBUG"},
				InputFile:   "src/main.cpp",
			},
		},
		{
			name:    "spaces in include paths",
			cmdline: "g++ -I include -I . -I /usr/include -std=c++14 -c main.cpp",
			want: Command{
				Compiler:    "g++",
				IncludeDirs: []string{"include", ".", "/usr/include"},
				Std:         "c++14",
				InputFile:   "main.cpp",
			},
		},
		{
			name:    "equals form",
			cmdline: "g++ -I=dir3 file.cpp",
			want: Command{
				Compiler:    "g++",
				IncludeDirs: []string{"dir3"},
				InputFile:   "file.cpp",
			},
		},
		{
			name:    "include system headers",
			cmdline: "g++ -isystem /usr/include/boost -c file.cpp",
			want: Command{
				Compiler:    "g++",
				IncludeDirs: []string{"/usr/include/boost"},
				InputFile:   "file.cpp",
			},
		},
		{
			name:    "MQ MF flags removal",
			cmdline: "g++ -c file.cpp -MQ file.o -MF file.d",
			want: Command{
				Compiler:  "g++",
				InputFile: "file.cpp",
			},
		},
		{
			name:    "real world example",
			cmdline: "g++ -Ihello.p -I. -I.. -I/nix/store/b2zcd1z08y0bgiiradpk34g03ny5765y-boost-1.87.0-dev/include -fdiagnostics-color=always -D_GLIBCXX_ASSERTIONS=1 -D_FILE_OFFSET_BITS=64 -Wall -Winvalid-pch -std=c++14 -O0 -g -DBOOST_ALL_NO_LIB -MD -MQ hello.p/main.cpp.o -MF hello.p/main.cpp.o.d -o hello.p/main.cpp.o -c ../main.cpp",
			want: Command{
				Compiler: "g++",
				IncludeDirs: []string{
					"hello.p", ".", "..",
					"/nix/store/b2zcd1z08y0bgiiradpk34g03ny5765y-boost-1.87.0-dev/include",
				},
				Std:       "c++14",
				Defines:   []string{"_GLIBCXX_ASSERTIONS=1", "_FILE_OFFSET_BITS=64", "BOOST_ALL_NO_LIB"},
				InputFile: "../main.cpp",
			},
		},
		{
			name:    "escaped quotes and spaces",
			cmdline: `g++ -I"path with spaces" -D"MACRO=\"value with spaces\"" -c file.cpp`,
			want: Command{
				Compiler:    "g++",
				IncludeDirs: []string{"path with spaces"},
				Defines:     []string{`MACRO="value with spaces"`},
				InputFile:   "file.cpp",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCommand(tc.cmdline)
			if err != nil {
				t.Fatalf("ParseCommand(%q) returned error: %v", tc.cmdline, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseCommand(%q) (-want +got):\n%s", tc.cmdline, diff)
			}
		})
	}
}

func TestParseCommandUnsupportedCompiler(t *testing.T) {
	_, err := ParseCommand("rustc -c file.rs")
	if !errors.Is(err, ErrUnsupportedCompiler) {
		t.Errorf("ParseCommand(rustc ...) error = %v; want ErrUnsupportedCompiler", err)
	}
}

func TestParseCommandNoInputFile(t *testing.T) {
	_, err := ParseCommand("g++ -Wall -O2")
	if !errors.Is(err, ErrNoInputFile) {
		t.Errorf("ParseCommand(...) error = %v; want ErrNoInputFile", err)
	}
}

func TestParseCommandMalformed(t *testing.T) {
	_, err := ParseCommand(`g++ -I"unclosed quote file.cpp`)
	if !errors.Is(err, ErrCommandParse) {
		t.Errorf("ParseCommand(...) error = %v; want ErrCommandParse", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	incDir := filepath.Join(dir, "include")
	if err := os.Mkdir(incDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "main.c"), `
#include "util.h"
#include <stdio.h>
int main() {}
`)
	writeFile(t, filepath.Join(dir, "util.h"), `
#include "base.h"
`)
	writeFile(t, filepath.Join(dir, "base.h"), `// nothing here`)
	writeFile(t, filepath.Join(incDir, "extra.h"), `// unreferenced`)

	got, err := Discover(context.Background(), []string{filepath.Join(dir, "main.c")}, []string{incDir})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(dir, "main.c"),
		filepath.Join(dir, "util.h"),
		filepath.Join(dir, "base.h"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() (-want +got):\n%s", diff)
	}
}

func TestDiscoverUnresolvedIsNotError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.c"), `#include <does_not_exist.h>`)

	got, err := Discover(context.Background(), []string{filepath.Join(dir, "main.c")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "main.c")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() (-want +got):\n%s", diff)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
