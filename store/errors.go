// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package store

import "errors"

// ErrInvalidStorePath is returned when a string does not have the
// structure of a valid store path: a filename of at least 34 characters
// with a '-' at index 32.
var ErrInvalidStorePath = errors.New("invalid store path")

// ErrMissingInputDrv is returned by [Derivation.AddDynamicOutput] when
// asked to attach a dynamic output to an input derivation that the
// derivation does not already depend on and that could not be implied.
var ErrMissingInputDrv = errors.New("missing input derivation")

// ErrInvalidPlaceholder is returned when a string is not a valid
// nix-base32 encoding of a placeholder digest.
var ErrInvalidPlaceholder = errors.New("invalid placeholder")

// ErrInvalidDerivedFile is returned by [ParseDerivedFile] when the wire
// encoding does not contain exactly one ':' separator.
var ErrInvalidDerivedFile = errors.New("invalid derived file encoding")
