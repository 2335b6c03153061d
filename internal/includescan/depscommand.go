// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package includescan

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// DepsConfig configures [DepsCommand].
type DepsConfig struct {
	// OutputPath is where the compiler should write the depfile.
	OutputPath string

	// IncludeSystemHeaders selects -M over -MM, so system headers
	// appear in the depfile too.
	IncludeSystemHeaders bool
}

// DepsCommand rewrites a compile command line into one that only
// generates a gcc-style depfile: the include flags (in their original
// order), then the last -std= flag, then the -D flags (in their
// original order) are kept, everything else is stripped, and -MM -MF <output>
// plus the input file are appended. The returned slice is the argv to
// execute. This is the compiler-driven counterpart to [Discover],
// kept for cross-checking the in-process scanner's results.
func DepsCommand(cmdline string, config DepsConfig) ([]string, error) {
	if config.OutputPath == "" {
		config.OutputPath = "deps.d"
	}

	args, err := shlex.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w: %v", cmdline, ErrCommandParse, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("parse command %q: %w", cmdline, ErrCommandParse)
	}
	compiler := args[0]
	if !isSupportedCompiler(compiler) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompiler, compiler)
	}

	var includeFlags, defineFlags []string
	var stdFlag, inputFile string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "-I"):
			if len(arg) > len("-I") {
				includeFlags = append(includeFlags, arg)
			} else if i+1 < len(args) {
				i++
				includeFlags = append(includeFlags, "-I"+args[i])
			}
		case strings.HasPrefix(arg, "-isystem"):
			if len(arg) > len("-isystem") {
				includeFlags = append(includeFlags, arg)
			} else if i+1 < len(args) {
				i++
				includeFlags = append(includeFlags, "-isystem"+args[i])
			}
		case strings.HasPrefix(arg, "-std="):
			stdFlag = arg
		case strings.HasPrefix(arg, "-D"):
			if len(arg) > len("-D") {
				defineFlags = append(defineFlags, arg)
			} else if i+1 < len(args) {
				i++
				defineFlags = append(defineFlags, "-D"+args[i])
			}
		case arg == "-o" || arg == "-MF" || arg == "-MQ":
			i++ // skip the flag's operand too
		case !strings.HasPrefix(arg, "-") && strings.Contains(arg, "."):
			inputFile = arg
		}
	}
	if inputFile == "" {
		return nil, fmt.Errorf("parse command %q: %w", cmdline, ErrNoInputFile)
	}

	cmd := []string{compiler}
	cmd = append(cmd, includeFlags...)
	if stdFlag != "" {
		cmd = append(cmd, stdFlag)
	}
	cmd = append(cmd, defineFlags...)
	if config.IncludeSystemHeaders {
		cmd = append(cmd, "-M")
	} else {
		cmd = append(cmd, "-MM")
	}
	cmd = append(cmd, "-MF", config.OutputPath, inputFile)
	return cmd, nil
}
