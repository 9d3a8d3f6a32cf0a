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

package gitcas

import (
	"os"
	"path/filepath"
	"testing"

	"go.chromium.org/mrsetup/internal/treeid"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureBareInitIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store.git")
	created, err := EnsureBareInit(root)
	if err != nil || !created {
		t.Fatalf("EnsureBareInit: created=%v err=%v", created, err)
	}
	created, err = EnsureBareInit(root)
	if err != nil || created {
		t.Fatalf("second EnsureBareInit: created=%v err=%v, want false/nil", created, err)
	}
}

func TestOpenMissingStoreReturnsNil(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h != nil {
		t.Fatalf("Open of a non-repo path returned a handle")
	}
}

func TestInitialCommitAndReadBack(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store.git")
	if _, err := EnsureBareInit(root); err != nil {
		t.Fatalf("EnsureBareInit: %v", err)
	}
	h, err := Open(root)
	if err != nil || h == nil {
		t.Fatalf("Open: h=%v err=%v", h, err)
	}

	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "a.txt"), "hello")
	mustWrite(t, filepath.Join(src, "sub", "b.txt"), "world")

	treeID, commitID, err := h.InitialCommit(src, "import")
	if err != nil {
		t.Fatalf("InitialCommit: %v", err)
	}
	if commitID.IsZero() || treeID.IsZero() {
		t.Fatalf("InitialCommit returned zero id: tree=%v commit=%v", treeID, commitID)
	}

	if exists, err := h.CheckTreeExists(treeID); err != nil || !exists {
		t.Fatalf("CheckTreeExists(tree): exists=%v err=%v", exists, err)
	}

	size, typ, ok, err := h.ReadHeader(commitID)
	if err != nil || !ok {
		t.Fatalf("ReadHeader(commit): size=%d typ=%v ok=%v err=%v", size, typ, ok, err)
	}

	if err := h.KeepTag(commitID, "keep"); err != nil {
		t.Fatalf("KeepTag: %v", err)
	}
}

func TestReadTreeRejectsMissingID(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store.git")
	if _, err := EnsureBareInit(root); err != nil {
		t.Fatalf("EnsureBareInit: %v", err)
	}
	h, err := Open(root)
	if err != nil || h == nil {
		t.Fatalf("Open: h=%v err=%v", h, err)
	}
	id, err := treeid.Parse("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	if err != nil {
		t.Fatalf("treeid.Parse: %v", err)
	}
	if exists, err := h.CheckTreeExists(id); err != nil || exists {
		t.Fatalf("CheckTreeExists on unknown id: exists=%v err=%v", exists, err)
	}
}
