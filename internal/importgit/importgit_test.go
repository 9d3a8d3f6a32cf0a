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

package importgit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.chromium.org/mrsetup/internal/gitcas"
	"go.chromium.org/mrsetup/internal/gitop"
)

func TestImportProducesTreeAndCommit(t *testing.T) {
	store := filepath.Join(t.TempDir(), "store.git")
	im := New(gitop.New(), store)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	v, err := im.Import(context.Background(), src, "import")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if v.TreeID.IsZero() || v.CommitID.IsZero() {
		t.Fatalf("Import() = %+v, want non-zero ids", v)
	}

	handle, err := gitcas.Open(store)
	if err != nil || handle == nil {
		t.Fatalf("Open: h=%v err=%v", handle, err)
	}
	if exists, err := handle.CheckTreeExists(v.TreeID); err != nil || !exists {
		t.Fatalf("CheckTreeExists: exists=%v err=%v", exists, err)
	}
}

func TestImportIsDeduplicated(t *testing.T) {
	store := filepath.Join(t.TempDir(), "store.git")
	im := New(gitop.New(), store)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var wg sync.WaitGroup
	values := make([]Value, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = im.Import(context.Background(), src, "import")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if values[i] != values[0] {
			t.Fatalf("caller %d got %+v, want %+v", i, values[i], values[0])
		}
	}
}
