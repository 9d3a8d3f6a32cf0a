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

package mrconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.chromium.org/mrsetup/common/errors"
)

// Root names the anchor a Location resolves against.
type Root string

const (
	RootWorkspace Root = "workspace"
	RootHome      Root = "home"
	RootSystem    Root = "system"
)

// Location is one `{root, path, base?}` entry from the run-control file
// (spec.md §6).
type Location struct {
	Root Root   `json:"root"`
	Path string `json:"path"`
	Base string `json:"base,omitempty"`
}

// Resolved is the absolute, canonical `(path, base)` pair a Location
// resolves to.
type Resolved struct {
	Path string
	Base string
}

// Resolve computes l's absolute canonical pair. workspaceRoot is the
// detected workspace root, or "" if none was found. ok is false (with a
// nil error) when l.Root == RootWorkspace and workspaceRoot == "" — per
// spec.md §6, this case is skipped with a warning, never fatal; the
// caller is responsible for logging that warning.
func (l Location) Resolve(workspaceRoot string) (r Resolved, ok bool, err error) {
	base := l.Base
	if base == "" {
		base = "."
	}

	var rootDir string
	switch l.Root {
	case RootWorkspace:
		if workspaceRoot == "" {
			return Resolved{}, false, nil
		}
		rootDir = workspaceRoot
	case RootHome:
		rootDir, err = os.UserHomeDir()
		if err != nil {
			return Resolved{}, false, errors.Annotate(err, "resolving home directory for location").Err()
		}
	case RootSystem:
		rootDir = string(filepath.Separator)
	default:
		return Resolved{}, false, errors.Reason("unrecognized location root %q", l.Root).Fatal().Err()
	}

	absBase, err := canonicalize(filepath.Join(rootDir, base))
	if err != nil {
		return Resolved{}, false, err
	}
	absPath, err := canonicalize(filepath.Join(absBase, l.Path))
	if err != nil {
		return Resolved{}, false, err
	}
	return Resolved{Path: absPath, Base: absBase}, true, nil
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Annotate(err, "resolving absolute path").InternalReason("path(%q)", p).Err()
	}
	return filepath.Clean(abs), nil
}

// LocationList is a `Location | [Location]` field, per spec.md §6's "a
// location or list of locations".
type LocationList []Location

func (l *LocationList) UnmarshalJSON(data []byte) error {
	var single Location
	if err := json.Unmarshal(data, &single); err == nil {
		*l = LocationList{single}
		return nil
	}
	var multi []Location
	if err := json.Unmarshal(data, &multi); err != nil {
		return errors.Annotate(err, "location field is neither an object nor an array of objects").Fatal().Err()
	}
	*l = LocationList(multi)
	return nil
}

func (l LocationList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]Location(l))
}

// RunControl is the parsed run-control file (spec.md §6). JustArgs is
// kept as a raw passthrough: its structure is owned by the (out-of-scope)
// CLI surface that ultimately execs `just`, not by the fetch/setup
// engine.
type RunControl struct {
	LocalBuildRoot    LocationList    `json:"local build root,omitempty"`
	CheckoutLocations LocationList    `json:"checkout locations,omitempty"`
	Distdirs          LocationList    `json:"distdirs,omitempty"`
	JustArgs          json.RawMessage `json:"just args,omitempty"`
	ConfigLookupOrder LocationList    `json:"config lookup order,omitempty"`
}

// ParseRunControl parses a run-control file's JSON content.
func ParseRunControl(data []byte) (*RunControl, error) {
	var rc RunControl
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, errors.Annotate(err, "parsing run-control file").Fatal().Err()
	}
	return &rc, nil
}

// defaultWorkspaceMarkers are the files/directories DetectWorkspaceRoot
// looks for when walking upward from a starting directory. This mirrors
// just-mr's own marker-file search for a workspace root; the exact marker
// set is an open question the original source leaves tool-configurable,
// resolved here in favor of the markers a multi-repository checkout is
// most likely to carry.
var defaultWorkspaceMarkers = []string{"ROOT", "WORKSPACE", ".git"}

// DetectWorkspaceRoot walks upward from start looking for any of
// defaultWorkspaceMarkers, returning the first directory that contains
// one. ok is false if no marker is found before reaching the filesystem
// root.
func DetectWorkspaceRoot(start string) (root string, ok bool, err error) {
	dir, err := canonicalize(start)
	if err != nil {
		return "", false, err
	}
	for {
		for _, marker := range defaultWorkspaceMarkers {
			if _, statErr := os.Stat(filepath.Join(dir, marker)); statErr == nil {
				return dir, true, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}
