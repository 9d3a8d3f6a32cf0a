// Copyright 2019 The LUCI Authors.
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

package filesystem

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMakeDirs(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := MakeDirs(nested); err != nil {
		t.Fatalf("MakeDirs: %v", err)
	}
	if fi, err := os.Stat(nested); err != nil || !fi.IsDir() {
		t.Fatalf("nested dir missing: %v", err)
	}
}

func TestTouchCreatesFile(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "file")
	if err := Touch(p, time.Time{}, 0644); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("file missing after Touch: %v", err)
	}
}

func TestTouchUpdatesExistingMtime(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "file")
	if err := Touch(p, time.Time{}, 0644); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	when := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := Touch(p, when, 0644); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	fi, err := os.Stat(p)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !fi.ModTime().Equal(when) {
		t.Fatalf("mtime = %v, want %v", fi.ModTime(), when)
	}
}

func TestMakeReadOnlyAndWritable(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "file")
	if err := Touch(p, time.Time{}, 0644); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := MakeReadOnly(root, nil); err != nil {
		t.Fatalf("MakeReadOnly: %v", err)
	}
	fi, err := os.Stat(p)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Mode()&0222 != 0 {
		t.Fatalf("mode %v still has a write bit set", fi.Mode())
	}
	if err := MakePathUserWritable(p, nil); err != nil {
		t.Fatalf("MakePathUserWritable: %v", err)
	}
	fi, err = os.Stat(p)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Mode()&0200 == 0 {
		t.Fatalf("mode %v still not user-writable", fi.Mode())
	}
}

func TestRemoveAllReadOnlyTree(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := MakeDirs(sub); err != nil {
		t.Fatalf("MakeDirs: %v", err)
	}
	p := filepath.Join(sub, "file")
	if err := Touch(p, time.Time{}, 0644); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := MakeReadOnly(root, nil); err != nil {
		t.Fatalf("MakeReadOnly: %v", err)
	}
	if err := RemoveAll(root); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("root still exists after RemoveAll: %v", err)
	}
}

func TestRemoveAllMissingPathIsNoop(t *testing.T) {
	if err := RemoveAll(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("RemoveAll of missing path: %v", err)
	}
}

func TestAbsPath(t *testing.T) {
	rel := "."
	if err := AbsPath(&rel); err != nil {
		t.Fatalf("AbsPath: %v", err)
	}
	if !filepath.IsAbs(rel) {
		t.Fatalf("AbsPath left a relative path: %q", rel)
	}
}
