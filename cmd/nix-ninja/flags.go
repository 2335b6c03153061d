// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package main

import (
	"strings"

	"github.com/spf13/pflag"
)

// commaSeparatedFlag is a [github.com/spf13/pflag.Value] that collects
// comma-separated occurrences into a list, the way the --extra-inputs
// flag (and its $NIX_NINJA_EXTRA_INPUTS fallback) is specified.
type commaSeparatedFlag []string

var _ pflag.Value = (*commaSeparatedFlag)(nil)

func (f *commaSeparatedFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *commaSeparatedFlag) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*f = append(*f, part)
		}
	}
	return nil
}

func (f *commaSeparatedFlag) Type() string {
	return "list"
}
