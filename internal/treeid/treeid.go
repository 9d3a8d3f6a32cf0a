// Copyright 2024 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package treeid handles the 40-hex-character Git tree identifier used
// throughout this repository to name content-addressed trees, plus the
// filesystem path canonicalization helpers the fetch/setup engine needs
// before handing paths to the Git object store adapter.
package treeid

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"go.chromium.org/mrsetup/common/errors"
)

// RawSize is the length in bytes of a tree identifier's raw (binary) form.
const RawSize = 20

// HexSize is the length in bytes of a tree identifier's hex form.
const HexSize = RawSize * 2

// ID is a Git tree (or commit) object identifier. The zero value is not a
// valid ID; use Parse or FromRaw to construct one.
type ID [RawSize]byte

// Parse validates and converts a 40-character hex string into an ID.
func Parse(hexID string) (ID, error) {
	var id ID
	if len(hexID) != HexSize {
		return id, errors.Reason("tree id %q: want %d hex chars, got %d", hexID, HexSize, len(hexID)).Err()
	}
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return id, errors.Annotate(err, "tree id %q is not valid hex", hexID).Err()
	}
	copy(id[:], raw)
	return id, nil
}

// FromRaw converts a 20-byte raw identifier into an ID.
func FromRaw(raw []byte) (ID, error) {
	var id ID
	if len(raw) != RawSize {
		return id, errors.Reason("tree id: want %d raw bytes, got %d", RawSize, len(raw)).Err()
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the 40-character lowercase hex form.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Raw returns the 20-byte binary form.
func (id ID) Raw() []byte { return id[:] }

// IsZero reports whether id is the zero value (never a valid tree id).
func (id ID) IsZero() bool { return id == ID{} }

// LooksLikeHex reports whether s has the exact shape of a hex tree id,
// without validating that it names a real object. Used by config parsing
// to distinguish a declared tree_id field from a malformed one early.
func LooksLikeHex(s string) bool {
	if len(s) != HexSize {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) == -1
}

// CanonicalizePath returns the absolute, cleaned form of p. Unlike
// filepath.Abs alone, symlinks in p are not resolved: the fetch/setup
// engine compares paths for the dist-dir/workspace-root detection by
// syntactic identity, matching the declared paths in configuration.
func CanonicalizePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Annotate(err, "resolving absolute path").InternalReason("path(%q)", p).Err()
	}
	return filepath.Clean(abs), nil
}
