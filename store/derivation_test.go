// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDerivationMarshalJSON(t *testing.T) {
	drv := NewDerivation("hello", "x86_64-linux", "/nix/store/1b9-bash/bin/bash")
	drv.AddArg("-c").AddArg("echo Hello > $out")
	drv.AddEnv("PATH", "/nix/store/d1p-coreutils/bin")
	drv.AddInputSrc("/nix/store/b2-foo-1.0")
	drv.AddInputSrc("/nix/store/a1-bar-1.0")
	drv.AddInputDrv("/nix/store/c3-baz.drv", []string{"out"})
	drv.AddCAOutput("out", SHA256, NAR)

	data, err := json.Marshal(drv)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"name":    "hello",
		"system":  "x86_64-linux",
		"builder": "/nix/store/1b9-bash/bin/bash",
		"args":    []any{"-c", "echo Hello > $out"},
		"env": map[string]any{
			"PATH": "/nix/store/d1p-coreutils/bin",
		},
		"inputDrvs": map[string]any{
			"/nix/store/c3-baz.drv": map[string]any{
				"outputs":        []any{"out"},
				"dynamicOutputs": map[string]any{},
			},
		},
		"inputSrcs": []any{"/nix/store/a1-bar-1.0", "/nix/store/b2-foo-1.0"},
		"outputs": map[string]any{
			"out": map[string]any{
				"hashAlgo": "sha256",
				"method":   "nar",
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("derivation JSON (-want +got):\n%s", diff)
	}
}

func TestDerivationMarshalJSONDeterministic(t *testing.T) {
	build := func() *Derivation {
		drv := NewDerivation("hello", "x86_64-linux", "/nix/store/1b9-bash/bin/bash")
		drv.AddInputSrc("/nix/store/b2-foo-1.0")
		drv.AddInputSrc("/nix/store/a1-bar-1.0")
		drv.AddInputSrc("/nix/store/z9-qux-1.0")
		drv.AddCAOutput("out", SHA256, NAR)
		return drv
	}

	first, err := json.Marshal(build())
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(build())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(first), string(second)); diff != "" {
		t.Errorf("two runs produced different JSON (-first +second):\n%s", diff)
	}
}

func TestAddDynamicOutput(t *testing.T) {
	drv := NewDerivation("dynamic-example", "x86_64-linux", "/nix/store/1b9-bash/bin/bash")
	drv.AddInputDrv("/nix/store/ac8-ca-example.drv", nil)
	if _, err := drv.AddDynamicOutput("/nix/store/ac8-ca-example.drv", "out", []string{"out"}); err != nil {
		t.Fatal(err)
	}
	in := drv.InputDrvs["/nix/store/ac8-ca-example.drv"]
	if in == nil || in.DynamicOutputs["out"] == nil {
		t.Fatal("dynamic output was not recorded")
	}
}

func TestAddDynamicOutputImpliesInputDrv(t *testing.T) {
	drv := NewDerivation("dynamic-example", "x86_64-linux", "/nix/store/1b9-bash/bin/bash")
	if _, err := drv.AddDynamicOutput("/nix/store/ac8-ca-example.drv", "out", []string{"out"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := drv.InputDrvs["/nix/store/ac8-ca-example.drv"]; !ok {
		t.Error("AddDynamicOutput did not add the implied input derivation")
	}
}
