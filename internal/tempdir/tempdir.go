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

// Package tempdir provides a typed temporary directory factory whose
// lifetime is tied to ownership of the returned handle, rather than to a
// lexical defer. A handle is passed along a continuation chain (generator
// working directories, fetch scratch space); whichever continuation is
// last to need it calls Close, which is the only thing that removes the
// directory from disk.
package tempdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/common/system/filesystem"
)

// Dir is a temporary directory rooted under a configured scratch root. It
// is safe to pass between goroutines; Close is idempotent.
type Dir struct {
	path   string
	closed int32
	once   sync.Once
}

// Factory creates Dirs rooted under a single scratch directory (typically
// "<build root>/tmp"), one per call, each with a distinct name.
type Factory struct {
	root string

	mu  sync.Mutex
	ctr uint64
}

// NewFactory creates a Factory rooted at root. root is created if it does
// not already exist.
func NewFactory(root string) (*Factory, error) {
	if err := filesystem.MakeDirs(root); err != nil {
		return nil, errors.Annotate(err, "creating scratch root").InternalReason("root(%q)", root).Err()
	}
	return &Factory{root: root}, nil
}

// New creates a fresh, empty directory under the factory's root, tagged
// with label for debuggability (e.g. "generator", "fetch").
func (f *Factory) New(label string) (*Dir, error) {
	f.mu.Lock()
	f.ctr++
	n := f.ctr
	f.mu.Unlock()

	if label == "" {
		label = "tmp"
	}
	name := fmt.Sprintf("%s-%d-%d", label, os.Getpid(), n)
	path := filepath.Join(f.root, name)
	if err := os.Mkdir(path, 0755); err != nil {
		return nil, errors.Annotate(err, "creating temp dir").InternalReason("path(%q)", path).Err()
	}
	return &Dir{path: path}, nil
}

// Path returns the directory's filesystem path. Valid until Close.
func (d *Dir) Path() string { return d.path }

// Close removes the directory and everything under it. Safe to call more
// than once or from more than one goroutine; only the first call acts.
func (d *Dir) Close() error {
	var err error
	d.once.Do(func() {
		atomic.StoreInt32(&d.closed, 1)
		err = filesystem.RemoveAll(d.path)
	})
	return err
}
