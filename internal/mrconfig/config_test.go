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
	"testing"
)

func TestParseEmptyConfig(t *testing.T) {
	var c Config
	if err := json.Unmarshal([]byte(`{}`), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Main != "" || len(c.Repositories) != 0 {
		t.Fatalf("got %+v, want empty config", c)
	}
}

func TestParseFileRootRepository(t *testing.T) {
	input := `{
		"main": "a",
		"repositories": {
			"a": {"repository": ["file", "/src/a"]}
		}
	}`
	var c Config
	if err := json.Unmarshal([]byte(input), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	d, ok := c.Repositories["a"]
	if !ok {
		t.Fatalf("repository a missing")
	}
	if d.Repository.Literal == nil || d.Repository.Literal.Kind != FileRootFile || d.Repository.Literal.Path != "/src/a" {
		t.Fatalf("got %+v, want file root /src/a", d.Repository)
	}
}

func TestParseIndirection(t *testing.T) {
	input := `{"repositories": {"a": {"repository": "b"}}}`
	var c Config
	if err := json.Unmarshal([]byte(input), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	d := c.Repositories["a"]
	if !d.Repository.IsIndirection() || d.Repository.Indirection != "b" {
		t.Fatalf("got %+v, want indirection to b", d.Repository)
	}
}

func TestParseArchiveDescriptorWithUnknownField(t *testing.T) {
	input := `{"repositories": {"a": {"repository": {
		"type": "archive", "content": "deadbeef", "fetch": "https://example/a.tgz",
		"mirrors": ["https://mirror/a.tgz"], "unknown_field": 42
	}}}}`
	var c Config
	if err := json.Unmarshal([]byte(input), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	arc := c.Repositories["a"].Repository.Archive
	if arc == nil {
		t.Fatalf("expected archive descriptor")
	}
	if arc.Content != "deadbeef" || arc.Fetch != "https://example/a.tgz" {
		t.Fatalf("got %+v", arc)
	}
	if len(arc.Mirrors) != 1 || arc.Mirrors[0] != "https://mirror/a.tgz" {
		t.Fatalf("mirrors = %v", arc.Mirrors)
	}
	if _, ok := arc.Extra["unknown_field"]; !ok {
		t.Fatalf("unknown_field not preserved: %+v", arc.Extra)
	}

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTrip Config
	if err := json.Unmarshal(out, &roundTrip); err != nil {
		t.Fatalf("round-trip Unmarshal: %v", err)
	}
	if _, ok := roundTrip.Repositories["a"].Repository.Archive.Extra["unknown_field"]; !ok {
		t.Fatalf("unknown_field lost across round-trip")
	}
}

func TestParseGeneratorDescriptorCacheDefault(t *testing.T) {
	input := `{"repositories": {"a": {"repository": {
		"type": "git tree", "tree_id": "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		"command": ["sh", "-c", "true"]
	}}}}`
	var c Config
	if err := json.Unmarshal([]byte(input), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	gen := c.Repositories["a"].Repository.Generator
	if gen == nil {
		t.Fatalf("expected generator descriptor")
	}
	if !gen.CacheEnabled() {
		t.Fatalf("CacheEnabled() default should be true")
	}
}

func TestGenericPragma(t *testing.T) {
	input := `{"repositories": {"a": {
		"repository": ["file", "/x"],
		"pragma": {"special": "generic"}
	}}}`
	var c Config
	if err := json.Unmarshal([]byte(input), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !c.Repositories["a"].IsGenericPragma() {
		t.Fatalf("expected generic pragma to be recognized")
	}
}

func TestFileNameDefaults(t *testing.T) {
	d := &Descriptor{}
	if d.EffectiveTargetFileName() != DefaultTargetFileName {
		t.Fatalf("got %q", d.EffectiveTargetFileName())
	}
	if d.EffectiveRuleFileName() != DefaultRuleFileName {
		t.Fatalf("got %q", d.EffectiveRuleFileName())
	}
	if d.EffectiveExpressionFileName() != DefaultExpressionFileName {
		t.Fatalf("got %q", d.EffectiveExpressionFileName())
	}
}

func TestRepositoryNamesSorted(t *testing.T) {
	input := `{"repositories": {"z": {"repository": ["file","/z"]}, "a": {"repository": ["file","/a"]}}}`
	var c Config
	if err := json.Unmarshal([]byte(input), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	names := c.RepositoryNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "z" {
		t.Fatalf("RepositoryNames() = %v", names)
	}
}
