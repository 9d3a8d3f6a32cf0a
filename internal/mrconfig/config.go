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

// Package mrconfig is the data model for the repository configuration
// (spec.md §3, §6): the top-level `{main, repositories}` document, each
// repository's descriptor, and the discriminated file-root/archive/
// generator values a descriptor's root fields may hold. Every type here
// preserves unrecognized JSON fields verbatim via a
// map[string]json.RawMessage side table, favoring explicit typed structs
// with an escape hatch over generic map[string]any traversal.
package mrconfig

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/internal/treeid"
)

// Default file names for the three root kinds, used when a descriptor
// does not override them.
const (
	DefaultTargetFileName     = "TARGETS"
	DefaultRuleFileName       = "RULES"
	DefaultExpressionFileName = "EXPRESSIONS"
)

// FileRootKind discriminates FileRoot's two variants.
type FileRootKind int

const (
	FileRootFile FileRootKind = iota
	FileRootGitTree
)

// FileRoot is the `["file", path]` / `["git tree", tree_id, repo_path]`
// value from spec.md §3/§6.
type FileRoot struct {
	Kind     FileRootKind
	Path     string    // set when Kind == FileRootFile
	TreeID   treeid.ID // set when Kind == FileRootGitTree
	RepoPath string    // set when Kind == FileRootGitTree
}

// NewFileFileRoot constructs a File-kind root.
func NewFileFileRoot(path string) FileRoot {
	return FileRoot{Kind: FileRootFile, Path: path}
}

// NewGitTreeFileRoot constructs a GitTree-kind root.
func NewGitTreeFileRoot(id treeid.ID, repoPath string) FileRoot {
	return FileRoot{Kind: FileRootGitTree, TreeID: id, RepoPath: repoPath}
}

// parseFileRoot parses a non-empty JSON array whose head string is the
// tag, per spec.md §6.
func parseFileRoot(raw json.RawMessage) (FileRoot, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return FileRoot{}, errors.Annotate(err, "file root is not a JSON array").Err()
	}
	if len(arr) == 0 {
		return FileRoot{}, errors.Reason("file root array is empty").Fatal().Err()
	}
	var tag string
	if err := json.Unmarshal(arr[0], &tag); err != nil {
		return FileRoot{}, errors.Annotate(err, "file root tag is not a string").Fatal().Err()
	}

	switch tag {
	case "file":
		if len(arr) != 2 {
			return FileRoot{}, errors.Reason(`"file" root wants 2 elements, got %d`, len(arr)).Fatal().Err()
		}
		var path string
		if err := json.Unmarshal(arr[1], &path); err != nil {
			return FileRoot{}, errors.Annotate(err, `"file" root path`).Fatal().Err()
		}
		return NewFileFileRoot(path), nil
	case "git tree":
		if len(arr) != 3 {
			return FileRoot{}, errors.Reason(`"git tree" root wants 3 elements, got %d`, len(arr)).Fatal().Err()
		}
		var hexID, repoPath string
		if err := json.Unmarshal(arr[1], &hexID); err != nil {
			return FileRoot{}, errors.Annotate(err, `"git tree" root tree id`).Fatal().Err()
		}
		if err := json.Unmarshal(arr[2], &repoPath); err != nil {
			return FileRoot{}, errors.Annotate(err, `"git tree" root repo path`).Fatal().Err()
		}
		id, err := treeid.Parse(hexID)
		if err != nil {
			return FileRoot{}, errors.Annotate(err, `"git tree" root`).Fatal().Err()
		}
		return NewGitTreeFileRoot(id, repoPath), nil
	default:
		return FileRoot{}, errors.Reason("unrecognized file root tag %q", tag).Fatal().Err()
	}
}

// MarshalJSON encodes f as the two- or three-element array form.
func (f FileRoot) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FileRootFile:
		return json.Marshal([]any{"file", f.Path})
	case FileRootGitTree:
		return json.Marshal([]any{"git tree", f.TreeID.String(), f.RepoPath})
	default:
		return nil, errors.Reason("invalid FileRoot kind %d", f.Kind).Err()
	}
}

// UnmarshalJSON decodes the array form produced by MarshalJSON.
func (f *FileRoot) UnmarshalJSON(data []byte) error {
	parsed, err := parseFileRoot(data)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ArchiveDescriptor is spec.md §3's archive descriptor (case
// `type ∈ {archive, zip, …}`), plus the `mirrors` field supplemented from
// original_source (SPEC_FULL.md §3).
type ArchiveDescriptor struct {
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	Fetch    string   `json:"fetch"`
	Distfile string   `json:"distfile,omitempty"`
	SHA256   string   `json:"sha256,omitempty"`
	SHA512   string   `json:"sha512,omitempty"`
	Subdir   string   `json:"subdir,omitempty"`
	Mirrors  []string `json:"mirrors,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// GeneratorDescriptor is spec.md §3's generator descriptor (case
// `type = "git tree"` with a generator command), plus the `cache` field
// supplemented from original_source (SPEC_FULL.md §3).
type GeneratorDescriptor struct {
	Type       string            `json:"type"`
	TreeID     string            `json:"tree_id"`
	Command    []string          `json:"command"`
	EnvVars    map[string]string `json:"env_vars,omitempty"`
	InheritEnv []string          `json:"inherit_env,omitempty"`
	Origin     string            `json:"origin,omitempty"`
	Cache      *bool             `json:"cache,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// CacheEnabled reports whether a successful generator result is eligible
// for the remote-CAS upload path, defaulting to true when unset.
func (g *GeneratorDescriptor) CacheEnabled() bool {
	return g.Cache == nil || *g.Cache
}

// TreeIDParsed parses g.TreeID, the tree identifier S9 verifies against.
func (g *GeneratorDescriptor) TreeIDParsed() (treeid.ID, error) {
	return treeid.Parse(g.TreeID)
}

// RootSpec is the `repository` field's value (or an overlay root field's
// value): either a string name indirection, a literal FileRoot, an
// ArchiveDescriptor, or a GeneratorDescriptor. Exactly one of
// Indirection/Literal/Archive/Generator is set after a successful parse.
type RootSpec struct {
	Indirection string
	Literal     *FileRoot
	Archive     *ArchiveDescriptor
	Generator   *GeneratorDescriptor
}

// IsIndirection reports whether this RootSpec is a bare string naming
// another repository's workspace root.
func (r RootSpec) IsIndirection() bool { return r.Literal == nil && r.Archive == nil && r.Generator == nil }

func (r *RootSpec) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*r = RootSpec{Indirection: asString}
		return nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(data, &asArray); err == nil {
		fr, err := parseFileRoot(data)
		if err != nil {
			return err
		}
		*r = RootSpec{Literal: &fr}
		return nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return errors.Annotate(err, "root spec is neither a string, array, nor object").Fatal().Err()
	}

	if probe.Type == "git tree" {
		var gen GeneratorDescriptor
		if err := unmarshalWithExtra(data, &gen, &gen.Extra); err != nil {
			return errors.Annotate(err, "parsing generator descriptor").Fatal().Err()
		}
		*r = RootSpec{Generator: &gen}
		return nil
	}

	var arc ArchiveDescriptor
	if err := unmarshalWithExtra(data, &arc, &arc.Extra); err != nil {
		return errors.Annotate(err, "parsing archive descriptor").Fatal().Err()
	}
	*r = RootSpec{Archive: &arc}
	return nil
}

func (r RootSpec) MarshalJSON() ([]byte, error) {
	switch {
	case r.Literal != nil:
		return json.Marshal(r.Literal)
	case r.Archive != nil:
		return marshalWithExtra(r.Archive, r.Archive.Extra)
	case r.Generator != nil:
		return marshalWithExtra(r.Generator, r.Generator.Extra)
	default:
		return json.Marshal(r.Indirection)
	}
}

// Descriptor is one entry of the top-level `repositories` mapping
// (spec.md §3).
type Descriptor struct {
	Repository         RootSpec           `json:"repository"`
	TargetRoot          *RootSpec          `json:"target_root,omitempty"`
	RuleRoot            *RootSpec          `json:"rule_root,omitempty"`
	ExpressionRoot      *RootSpec          `json:"expression_root,omitempty"`
	TargetFileName      string             `json:"target_file_name,omitempty"`
	RuleFileName        string             `json:"rule_file_name,omitempty"`
	ExpressionFileName  string             `json:"expression_file_name,omitempty"`
	Bindings            map[string]string  `json:"bindings,omitempty"`
	Pragma              map[string]json.RawMessage `json:"pragma,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// EffectiveTargetFileName returns TargetFileName or its default.
func (d *Descriptor) EffectiveTargetFileName() string {
	if d.TargetFileName == "" {
		return DefaultTargetFileName
	}
	return d.TargetFileName
}

// EffectiveRuleFileName returns RuleFileName or its default.
func (d *Descriptor) EffectiveRuleFileName() string {
	if d.RuleFileName == "" {
		return DefaultRuleFileName
	}
	return d.RuleFileName
}

// EffectiveExpressionFileName returns ExpressionFileName or its default.
func (d *Descriptor) EffectiveExpressionFileName() string {
	if d.ExpressionFileName == "" {
		return DefaultExpressionFileName
	}
	return d.ExpressionFileName
}

// IsGenericPragma reports whether this descriptor carries the
// `pragma: {"special": "generic"}` marker (SPEC_FULL.md §3) that tells
// the resolver to skip overlay-root expansion for a synthetic system
// repository.
func (d *Descriptor) IsGenericPragma() bool {
	raw, ok := d.Pragma["special"]
	if !ok {
		return false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v == "generic"
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type alias Descriptor
	var a alias
	if err := unmarshalWithExtra(data, &a, &a.Extra); err != nil {
		return err
	}
	*d = Descriptor(a)
	return nil
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	type alias Descriptor
	a := alias(d)
	return marshalWithExtra(&a, a.Extra)
}

// Config is the top-level repository configuration document (spec.md §6).
type Config struct {
	Main         string                  `json:"main"`
	Repositories map[string]*Descriptor  `json:"repositories,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	var a alias
	if err := unmarshalWithExtra(data, &a, &a.Extra); err != nil {
		return errors.Annotate(err, "parsing repository configuration").Fatal().Err()
	}
	*c = Config(a)
	if c.Repositories == nil {
		c.Repositories = map[string]*Descriptor{}
	}
	return nil
}

func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	if a.Repositories == nil {
		a.Repositories = map[string]*Descriptor{}
	}
	return marshalWithExtra(&a, a.Extra)
}

// RepositoryNames returns the repository names in sorted order, used
// wherever deterministic iteration is required (e.g. default `main`
// selection).
func (c *Config) RepositoryNames() []string {
	names := make([]string, 0, len(c.Repositories))
	for n := range c.Repositories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// unmarshalWithExtra decodes data into v (a pointer to a struct with
// `json:"..."` tags), then re-decodes into a map to capture whatever
// field names v's tags didn't claim, storing them into *extra.
func unmarshalWithExtra(data []byte, v any, extra *map[string]json.RawMessage) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	known, err := knownFieldNames(v)
	if err != nil {
		return err
	}
	out := make(map[string]json.RawMessage)
	for k, raw := range all {
		if !known[k] {
			out[k] = raw
		}
	}
	*extra = out
	return nil
}

// knownFieldNames reflects over v's struct type and collects the JSON
// name each exported field's `json:"..."` tag claims, independent of
// whether that field's current value would be omitted by omitempty.
func knownFieldNames(v any) (map[string]bool, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Reason("knownFieldNames: %v is not a struct", t).Err()
	}
	out := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" || tag == "" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			out[name] = true
		}
	}
	return out, nil
}

// marshalWithExtra marshals v, then merges in extra's keys (which are not
// among v's own tagged fields, by construction of unmarshalWithExtra).
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		merged[k] = raw
	}
	return json.Marshal(merged)
}
