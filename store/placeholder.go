// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

package store

import (
	"crypto/sha256"
	"strings"

	"zombiezen.com/go/nix"
	"zombiezen.com/go/nix/nixbase32"
)

// placeholderDigestLen is the size in bytes of a placeholder's SHA-256
// digest.
const placeholderDigestLen = sha256.Size

// compressedDigestLen is the size in bytes that a placeholder's digest
// is folded down to before being used as a dynamic output's preimage,
// matching Nix's own "compressHash" convention.
const compressedDigestLen = 20

// Placeholder is a deterministic stand-in for a not-yet-known
// content-addressed output path. It renders as "/" followed by the
// nix-base32 encoding of a 32-byte SHA-256 digest.
type Placeholder struct {
	digest [placeholderDigestLen]byte
}

// Render returns the placeholder's string form.
func (p Placeholder) Render() string {
	return "/" + nixbase32.EncodeToString(p.digest[:])
}

// ParsePlaceholder parses s (without validating any provenance) as a
// placeholder. s is the nix-base32 encoding of a 32-byte digest,
// optionally preceded by "/".
func ParsePlaceholder(s string) (Placeholder, error) {
	s = strings.TrimPrefix(s, "/")
	if err := nixbase32.ValidateString(s); err != nil {
		return Placeholder{}, err
	}
	decoded, err := nixbase32.DecodeString(s)
	if err != nil {
		return Placeholder{}, err
	}
	if len(decoded) != placeholderDigestLen {
		return Placeholder{}, ErrInvalidPlaceholder
	}
	var p Placeholder
	copy(p.digest[:], decoded)
	return p, nil
}

// StandardOutputPlaceholder returns the placeholder for a standard
// (non-content-addressed) output named outputName.
func StandardOutputPlaceholder(outputName string) Placeholder {
	return Placeholder{digest: sha256Sum(clearText("nix-output:", outputName))}
}

// CAOutputPlaceholder returns the placeholder for a content-addressed
// output named outputName of the derivation at drvPath.
func CAOutputPlaceholder(drvPath Path, outputName string) Placeholder {
	drvName := strings.TrimSuffix(drvPath.Name(), ".drv")
	outputPathName := OutputPathName(drvName, outputName)
	clear := "nix-upstream-output:" + drvPath.HashPart() + ":" + outputPathName
	return Placeholder{digest: sha256Sum([]byte(clear))}
}

// DynamicOutputPlaceholder returns the placeholder for an output named
// outputName of a dynamic derivation whose own (not-yet-materialized)
// drv path is identified by base.
func DynamicOutputPlaceholder(base Placeholder, outputName string) Placeholder {
	compressed := make([]byte, compressedDigestLen)
	nix.CompressHash(compressed, base.digest[:])
	clear := "nix-computed-output:" + nixbase32.EncodeToString(compressed) + ":" + outputName
	return Placeholder{digest: sha256Sum([]byte(clear))}
}

func clearText(prefix, s string) []byte {
	return []byte(prefix + s)
}

func sha256Sum(data []byte) [placeholderDigestLen]byte {
	return sha256.Sum256(data)
}
