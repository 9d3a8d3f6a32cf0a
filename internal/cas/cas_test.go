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

package cas

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	badger "github.com/dgraph-io/badger/v3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreInsertAndHas(t *testing.T) {
	s := openTestStore(t)
	content := []byte("hello world")
	d := HashBytes(content)

	if ok, err := s.Has(d); err != nil || ok {
		t.Fatalf("Has before Insert = (%v, %v), want (false, nil)", ok, err)
	}
	if err := s.Insert(d, strings.NewReader(string(content))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, err := s.Has(d); err != nil || !ok {
		t.Fatalf("Has after Insert = (%v, %v), want (true, nil)", ok, err)
	}

	rc, err := s.Open(d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestStoreHasRepairsMissingIndexEntry(t *testing.T) {
	s := openTestStore(t)
	content := []byte("repair me")
	d := HashBytes(content)
	if err := s.Insert(d, strings.NewReader(string(content))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Drop the index entry but leave the blob on disk.
	if err := s.index.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(d))
	}); err != nil {
		t.Fatalf("deleting index entry: %v", err)
	}
	ok, err := s.Has(d)
	if err != nil || !ok {
		t.Fatalf("Has after index drop = (%v, %v), want (true, nil)", ok, err)
	}
}

type fakeTransport struct {
	data []byte
	err  error
}

func (f *fakeTransport) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(string(f.data))), nil
}

func TestFetcherResolveFromCache(t *testing.T) {
	s := openTestStore(t)
	content := []byte("cached")
	d := HashBytes(content)
	if err := s.Insert(d, strings.NewReader(string(content))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	f := &Fetcher{Store: s}
	v, err := f.Resolve(context.Background(), Key{ContentHash: d})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !v.FromCache {
		t.Fatalf("Resolve() = %+v, want FromCache", v)
	}
}

func TestFetcherResolveFromDistdir(t *testing.T) {
	s := openTestStore(t)
	content := []byte("from dist-dir")
	d := HashBytes(content)
	distdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(distdir, "thing.tar"), content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := &Fetcher{Store: s, Distdirs: []string{distdir}}
	v, err := f.Resolve(context.Background(), Key{ContentHash: d, Distfile: "thing.tar"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.FromCache {
		t.Fatalf("Resolve() = %+v, want fresh insert from dist-dir", v)
	}
	if ok, _ := s.Has(d); !ok {
		t.Fatalf("blob not installed into store after dist-dir hit")
	}
}

func TestFetcherResolveFromNetwork(t *testing.T) {
	s := openTestStore(t)
	content := []byte("from network")
	d := HashBytes(content)
	f := &Fetcher{
		Store:     s,
		Transport: &fakeTransport{data: content},
	}
	v, err := f.Resolve(context.Background(), Key{ContentHash: d, FetchURL: "https://example/blob"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Digest != d {
		t.Fatalf("Resolve() digest = %v, want %v", v.Digest, d)
	}
}

func TestFetcherResolveNetworkMismatchIsFatal(t *testing.T) {
	s := openTestStore(t)
	f := &Fetcher{
		Store:     s,
		Transport: &fakeTransport{data: []byte("wrong content")},
	}
	_, err := f.Resolve(context.Background(), Key{ContentHash: Digest("deadbeef"), FetchURL: "https://example/blob"})
	if err == nil {
		t.Fatalf("Resolve: want error on content mismatch")
	}
}

func TestDistfileNameFallsBackToURLBasename(t *testing.T) {
	got := distfileName(Key{FetchURL: "https://example.com/path/to/archive.tgz"})
	if got != "archive.tgz" {
		t.Fatalf("distfileName = %q, want archive.tgz", got)
	}
}
