// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package includescan implements the two related capabilities the
// synthesizer needs before it can build an accurate input list for a
// compile edge: parsing a compiler command line into its include
// directories, and breadth-first discovery of every header file
// transitively reachable from a set of source files.
package includescan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/smpdt/nix-ninja/internal/sets"
	"golang.org/x/sync/errgroup"
)

// Failure modes a caller can distinguish.
var (
	ErrCommandParse      = errors.New("malformed command line")
	ErrUnsupportedCompiler = errors.New("unsupported compiler")
	ErrNoInputFile       = errors.New("could not identify input file")
)

// supportedCompilers mirrors the original implementation's allow-list:
// the compiler's basename must contain one of these.
var supportedCompilers = []string{
	"gcc", "g++", "clang", "clang++", "cc", "c++", "emcc", "em++",
}

// Command is the result of parsing a compiler command line.
type Command struct {
	Compiler     string
	IncludeDirs  []string
	Defines      []string
	Std          string
	InputFile    string
}

// ParseCommand tokenizes cmdline with shell-word rules and extracts the
// include directories, preprocessor definitions, language standard, and
// input file, in the manner of a GCC-compatible compiler invocation.
func ParseCommand(cmdline string) (Command, error) {
	args, err := shlex.Split(cmdline)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w: %v", cmdline, ErrCommandParse, err)
	}
	if len(args) == 0 {
		return Command{}, fmt.Errorf("parse command %q: %w", cmdline, ErrCommandParse)
	}

	compiler := args[0]
	if !isSupportedCompiler(compiler) {
		return Command{}, fmt.Errorf("%w: %s", ErrUnsupportedCompiler, compiler)
	}

	cmd := Command{Compiler: compiler}
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-o" || arg == "-MF" || arg == "-MQ":
			i++ // skip the flag's operand too
		case arg == "-I" && i+1 < len(args):
			i++
			cmd.IncludeDirs = append(cmd.IncludeDirs, args[i])
		case strings.HasPrefix(arg, "-I="):
			cmd.IncludeDirs = append(cmd.IncludeDirs, arg[len("-I="):])
		case strings.HasPrefix(arg, "-I") && len(arg) > 2:
			cmd.IncludeDirs = append(cmd.IncludeDirs, arg[len("-I"):])
		case arg == "-isystem" && i+1 < len(args):
			i++
			cmd.IncludeDirs = append(cmd.IncludeDirs, args[i])
		case strings.HasPrefix(arg, "-isystem") && len(arg) > len("-isystem"):
			cmd.IncludeDirs = append(cmd.IncludeDirs, arg[len("-isystem"):])
		case strings.HasPrefix(arg, "-std="):
			cmd.Std = arg[len("-std="):]
		case arg == "-D" && i+1 < len(args):
			i++
			cmd.Defines = append(cmd.Defines, args[i])
		case strings.HasPrefix(arg, "-D") && len(arg) > 2:
			cmd.Defines = append(cmd.Defines, arg[len("-D"):])
		case !strings.HasPrefix(arg, "-") && strings.Contains(arg, "."):
			cmd.InputFile = arg
		}
	}

	if cmd.InputFile == "" {
		return Command{}, fmt.Errorf("parse command %q: %w", cmdline, ErrNoInputFile)
	}
	return cmd, nil
}

func isSupportedCompiler(compiler string) bool {
	base := filepath.Base(compiler)
	for _, c := range supportedCompilers {
		if base == c || strings.Contains(base, c) {
			return true
		}
	}
	return false
}

// Discover performs breadth-first traversal over the #include graph
// rooted at files, resolving each reference against includeDirs (and,
// for quoted includes, the including file's own directory first). It
// returns every reachable file, including the initial set, in BFS
// order with duplicates removed.
//
// Each wave is scanned concurrently via an errgroup; unresolved
// includes are silently dropped, since they correspond to system
// headers or files the build has already declared by other means.
func Discover(ctx context.Context, files []string, includeDirs []string) ([]string, error) {
	seen := sets.New[string]()
	var order []string
	frontier := make([]string, 0, len(files))
	for _, f := range files {
		if !seen.Has(f) {
			seen.Add(f)
			order = append(order, f)
			frontier = append(frontier, f)
		}
	}

	for len(frontier) > 0 {
		discovered := make([][]string, len(frontier))
		grp, _ := errgroup.WithContext(ctx)
		for i, src := range frontier {
			i, src := i, src
			grp.Go(func() error {
				refs, err := scanFile(src)
				if err != nil {
					return err
				}
				resolved := make([]string, 0, len(refs))
				for _, ref := range refs {
					if path, ok := resolveInclude(ref, src, includeDirs); ok {
						resolved = append(resolved, path)
					}
				}
				discovered[i] = resolved
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return nil, err
		}

		var next []string
		for _, resolved := range discovered {
			for _, path := range resolved {
				if !seen.Has(path) {
					seen.Add(path)
					order = append(order, path)
					next = append(next, path)
				}
			}
		}
		frontier = next
	}

	return order, nil
}

type includeRef struct {
	name   string
	quoted bool
}

// scanFile extracts every #include directive's argument from src.
func scanFile(src string) ([]includeRef, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var refs []includeRef
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(line[1:])
		if !strings.HasPrefix(line, "include") {
			continue
		}
		rest := strings.TrimSpace(line[len("include"):])
		if ref, ok := parseIncludeOperand(rest); ok {
			refs = append(refs, ref)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func parseIncludeOperand(s string) (includeRef, bool) {
	if len(s) >= 2 && s[0] == '"' {
		if end := strings.IndexByte(s[1:], '"'); end >= 0 {
			return includeRef{name: s[1 : 1+end], quoted: true}, true
		}
		return includeRef{}, false
	}
	if len(s) >= 2 && s[0] == '<' {
		if end := strings.IndexByte(s[1:], '>'); end >= 0 {
			return includeRef{name: s[1 : 1+end], quoted: false}, true
		}
		return includeRef{}, false
	}
	return includeRef{}, false
}

// resolveInclude resolves ref against the including file's directory
// (quoted includes only) and then includeDirs, first match wins.
func resolveInclude(ref includeRef, including string, includeDirs []string) (string, bool) {
	if ref.quoted {
		candidate := filepath.Join(filepath.Dir(including), ref.name)
		if fileExists(candidate) {
			return candidate, true
		}
	}
	for _, dir := range includeDirs {
		candidate := filepath.Join(dir, ref.name)
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
