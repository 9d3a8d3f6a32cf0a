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

package treeid

import "testing"

const sample = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

func TestParseRoundTrip(t *testing.T) {
	id, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.String() != sample {
		t.Fatalf("String() = %q, want %q", id.String(), sample)
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	if _, err := Parse("abcd"); err == nil {
		t.Fatalf("Parse accepted too-short id")
	}
}

func TestParseRejectsNonHex(t *testing.T) {
	bad := "zz" + sample[2:]
	if _, err := Parse(bad); err == nil {
		t.Fatalf("Parse accepted non-hex id")
	}
}

func TestFromRawRoundTrip(t *testing.T) {
	id, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	id2, err := FromRaw(id.Raw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	if id2 != id {
		t.Fatalf("FromRaw(Raw()) != original")
	}
}

func TestLooksLikeHex(t *testing.T) {
	if !LooksLikeHex(sample) {
		t.Fatalf("LooksLikeHex(%q) = false, want true", sample)
	}
	if LooksLikeHex("not-a-tree-id") {
		t.Fatalf("LooksLikeHex accepted garbage")
	}
}

func TestCanonicalizePath(t *testing.T) {
	p, err := CanonicalizePath(".")
	if err != nil {
		t.Fatalf("CanonicalizePath: %v", err)
	}
	if p == "." || p == "" {
		t.Fatalf("CanonicalizePath(%q) = %q, want absolute path", ".", p)
	}
}
