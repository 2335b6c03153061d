// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"fmt"

	"github.com/smpdt/nix-ninja/internal/sortedset"
)

// HashAlgorithm is the hash algorithm used for a content-addressed
// output.
type HashAlgorithm string

// Supported hash algorithms.
const (
	SHA256 HashAlgorithm = "sha256"
	SHA512 HashAlgorithm = "sha512"
)

// OutputHashMode selects how a content-addressed output's contents are
// hashed.
type OutputHashMode string

// Supported output hash modes.
const (
	Flat OutputHashMode = "flat"
	NAR  OutputHashMode = "nar"
	Text OutputHashMode = "text"
)

// DerivationOutput describes one of a derivation's declared outputs.
type DerivationOutput struct {
	HashAlgo *HashAlgorithm  `json:"hashAlgo,omitempty"`
	Method   *OutputHashMode `json:"method,omitempty"`
	Hash     *string         `json:"hash,omitempty"`
}

// DynamicOutput describes an output of a dynamic derivation, recursively
// nameable by further dynamic outputs. dynamicOutputs is always emitted,
// even when empty, matching the wire format "nix derivation add" expects.
type DynamicOutput struct {
	Outputs        []string                  `json:"outputs"`
	DynamicOutputs map[string]*DynamicOutput `json:"dynamicOutputs"`
}

// InputDrv describes one of a derivation's input derivations: the set
// of its outputs this derivation depends on, plus any dynamic outputs.
type InputDrv struct {
	Outputs        []string                  `json:"outputs"`
	DynamicOutputs map[string]*DynamicOutput `json:"dynamicOutputs"`
}

// Derivation is a Nix derivation in the JSON schema accepted by
// "nix derivation add" / produced by "nix derivation show".
//
// The zero value is not usable; construct one with [NewDerivation].
type Derivation struct {
	Name    string
	System  string
	Builder string
	Args    []string
	Env     map[string]string

	InputDrvs map[string]*InputDrv
	InputSrcs *sortedset.Set[string]

	Outputs map[string]*DerivationOutput
}

// NewDerivation returns an empty derivation with the given name, system,
// and builder.
func NewDerivation(name, system, builder string) *Derivation {
	return &Derivation{
		Name:      name,
		System:    system,
		Builder:   builder,
		Env:       make(map[string]string),
		InputDrvs: make(map[string]*InputDrv),
		InputSrcs: sortedset.New[string](),
		Outputs:   make(map[string]*DerivationOutput),
	}
}

// AddArg appends an argument to the builder's argument list.
func (d *Derivation) AddArg(arg string) *Derivation {
	d.Args = append(d.Args, arg)
	return d
}

// AddEnv sets an environment variable for the build.
func (d *Derivation) AddEnv(key, value string) *Derivation {
	d.Env[key] = value
	return d
}

// AddInputSrc adds path as an input source.
func (d *Derivation) AddInputSrc(path string) *Derivation {
	d.InputSrcs.Add(path)
	return d
}

// AddInputDrv records that this derivation depends on the given outputs
// of the derivation at drvPath, merging with any outputs already
// recorded for that path.
func (d *Derivation) AddInputDrv(drvPath string, outputs []string) *Derivation {
	in, ok := d.InputDrvs[drvPath]
	if !ok {
		in = &InputDrv{
			Outputs:        []string{},
			DynamicOutputs: make(map[string]*DynamicOutput),
		}
		d.InputDrvs[drvPath] = in
	}
	in.Outputs = mergeUnique(in.Outputs, outputs)
	return d
}

// AddOutput declares an output with explicit (possibly nil) hash
// parameters.
func (d *Derivation) AddOutput(name string, hashAlgo *HashAlgorithm, method *OutputHashMode, hash *string) *Derivation {
	d.Outputs[name] = &DerivationOutput{HashAlgo: hashAlgo, Method: method, Hash: hash}
	return d
}

// AddCAOutput declares a content-addressed output whose hash is not yet
// known: the store daemon computes it from the built contents.
func (d *Derivation) AddCAOutput(name string, algo HashAlgorithm, method OutputHashMode) *Derivation {
	d.Outputs[name] = &DerivationOutput{HashAlgo: &algo, Method: &method}
	return d
}

// AddDynamicOutput records that this derivation consumes the named
// dynamic output of the derivation at drvPath, implicitly adding drvPath
// as an input derivation if it is not already one.
func (d *Derivation) AddDynamicOutput(drvPath, outputName string, outputs []string) (*Derivation, error) {
	d.AddInputDrv(drvPath, nil)
	in, ok := d.InputDrvs[drvPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingInputDrv, drvPath)
	}
	if in.DynamicOutputs == nil {
		in.DynamicOutputs = make(map[string]*DynamicOutput)
	}
	if outputs == nil {
		outputs = []string{}
	}
	in.DynamicOutputs[outputName] = &DynamicOutput{
		Outputs:        outputs,
		DynamicOutputs: make(map[string]*DynamicOutput),
	}
	return d, nil
}

func mergeUnique(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, o := range existing {
		seen[o] = struct{}{}
	}
	for _, o := range added {
		if _, ok := seen[o]; !ok {
			seen[o] = struct{}{}
			existing = append(existing, o)
		}
	}
	return existing
}

// derivationJSON mirrors the wire schema of "nix derivation add": a plain
// struct with deterministic slice/map contents, used only at
// (un)marshal time so the exported [Derivation] can keep InputSrcs as a
// set.
type derivationJSON struct {
	Name      string                `json:"name"`
	System    string                `json:"system"`
	Builder   string                `json:"builder"`
	Args      []string              `json:"args"`
	Env       map[string]string     `json:"env"`
	InputDrvs map[string]*InputDrv  `json:"inputDrvs"`
	InputSrcs []string              `json:"inputSrcs"`
	Outputs   map[string]*DerivationOutput `json:"outputs"`
}

// MarshalJSON renders d per the host schema. InputSrcs, which is
// unordered conceptually, serializes in sorted order so that two runs
// over identical derivation contents produce byte-identical JSON.
func (d *Derivation) MarshalJSON() ([]byte, error) {
	srcs := d.InputSrcs.Slice()
	if srcs == nil {
		srcs = []string{}
	}

	args := d.Args
	if args == nil {
		args = []string{}
	}
	env := d.Env
	if env == nil {
		env = map[string]string{}
	}
	inputDrvs := d.InputDrvs
	if inputDrvs == nil {
		inputDrvs = map[string]*InputDrv{}
	}
	outputs := d.Outputs
	if outputs == nil {
		outputs = map[string]*DerivationOutput{}
	}

	return json.Marshal(derivationJSON{
		Name:      d.Name,
		System:    d.System,
		Builder:   d.Builder,
		Args:      args,
		Env:       env,
		InputDrvs: inputDrvs,
		InputSrcs: srcs,
		Outputs:   outputs,
	})
}

// UnmarshalJSON restores a derivation from the host schema.
func (d *Derivation) UnmarshalJSON(data []byte) error {
	var raw derivationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Name = raw.Name
	d.System = raw.System
	d.Builder = raw.Builder
	d.Args = raw.Args
	d.Env = raw.Env
	d.InputDrvs = raw.InputDrvs
	d.InputSrcs = sortedset.New(raw.InputSrcs...)
	d.Outputs = raw.Outputs
	return nil
}
