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

package tempdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesDistinctDirs(t *testing.T) {
	f, err := NewFactory(filepath.Join(t.TempDir(), "scratch"))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	a, err := f.New("generator")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := f.New("generator")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Path() == b.Path() {
		t.Fatalf("two New() calls returned the same path %q", a.Path())
	}
	for _, d := range []*Dir{a, b} {
		if fi, err := os.Stat(d.Path()); err != nil || !fi.IsDir() {
			t.Fatalf("dir %q missing: %v", d.Path(), err)
		}
	}
}

func TestCloseRemovesDir(t *testing.T) {
	f, err := NewFactory(filepath.Join(t.TempDir(), "scratch"))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	d, err := f.New("fetch")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(d.Path()); !os.IsNotExist(err) {
		t.Fatalf("dir still exists after Close: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f, err := NewFactory(filepath.Join(t.TempDir(), "scratch"))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	d, err := f.New("fetch")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
