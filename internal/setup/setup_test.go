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

package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"go.chromium.org/mrsetup/internal/cas"
	"go.chromium.org/mrsetup/internal/gitcas"
	"go.chromium.org/mrsetup/internal/gittree"
	"go.chromium.org/mrsetup/internal/gitop"
	"go.chromium.org/mrsetup/internal/importgit"
	"go.chromium.org/mrsetup/internal/mrconfig"
	"go.chromium.org/mrsetup/internal/tempdir"
)

func newDriver(t *testing.T) (*Driver, string) {
	t.Helper()
	root := t.TempDir()
	storePath := filepath.Join(root, "store.git")
	ops := gitop.New()
	tf, err := tempdir.NewFactory(filepath.Join(root, "tmp"))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	casStore, err := cas.Open(filepath.Join(root, "cas"))
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	t.Cleanup(func() { casStore.Close() })

	return &Driver{
		CAS:      &cas.Fetcher{Store: casStore},
		Importer: importgit.New(ops, storePath),
		GitTree:  gittree.New(storePath, ops, tf, gitcas.Launcher{}, nil),
		Tempdirs: tf,
	}, storePath
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

func TestRunMaterializesArchiveAndGenerator(t *testing.T) {
	d, storePath := newDriver(t)
	ctx := context.Background()

	zipData := buildZip(t, map[string]string{"pkg/README": "hi\n"})
	digest := cas.HashBytes(zipData)

	cfg := &mrconfig.Config{Repositories: map[string]*mrconfig.Descriptor{
		"main": {
			Repository: mrconfig.RootSpec{Archive: &mrconfig.ArchiveDescriptor{
				Type:    "zip",
				Content: string(digest),
				Fetch:   "https://example.invalid/pkg.zip",
			}},
			Bindings: map[string]string{"tool": "tool"},
		},
		"tool": {
			Repository: mrconfig.RootSpec{Generator: &mrconfig.GeneratorDescriptor{
				Type:    "git tree",
				TreeID:  mustComputeTreeID(t, storePath, map[string]string{"gen.txt": "generated\n"}),
				Command: []string{"sh", "-c", "echo generated > gen.txt"},
			}},
		},
	}}

	fetcher := &stubTransport{data: zipData}
	d.CAS.Transport = fetcher

	out, err := d.Run(ctx, cfg, "main", []string{"main", "tool"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	mainDesc := out.Repositories["main"]
	if mainDesc.Repository.Literal == nil || mainDesc.Repository.Literal.Kind != mrconfig.FileRootGitTree {
		t.Fatalf("main repository = %+v, want a git-tree literal", mainDesc.Repository)
	}
	if mainDesc.Bindings["tool"] != "tool" {
		t.Fatalf("main bindings not preserved: %+v", mainDesc.Bindings)
	}

	toolDesc := out.Repositories["tool"]
	if toolDesc.Repository.Literal == nil || toolDesc.Repository.Literal.Kind != mrconfig.FileRootGitTree {
		t.Fatalf("tool repository = %+v, want a git-tree literal", toolDesc.Repository)
	}

	if _, err := json.Marshal(out); err != nil {
		t.Fatalf("Marshal rewritten config: %v", err)
	}
}

type stubTransport struct{ data []byte }

func (s *stubTransport) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// mustComputeTreeID imports content into storePath directly (bypassing the
// driver under test) to learn the tree id an equivalent generator run
// would produce.
func mustComputeTreeID(t *testing.T, storePath string, content map[string]string) string {
	t.Helper()
	src := t.TempDir()
	for name, data := range content {
		full := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(data), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if _, err := gitcas.EnsureBareInit(storePath); err != nil {
		t.Fatalf("EnsureBareInit: %v", err)
	}
	h, err := gitcas.Open(storePath)
	if err != nil || h == nil {
		t.Fatalf("Open: h=%v err=%v", h, err)
	}
	treeID, _, err := h.InitialCommit(src, "scratch")
	if err != nil {
		t.Fatalf("InitialCommit: %v", err)
	}
	return treeID.String()
}
