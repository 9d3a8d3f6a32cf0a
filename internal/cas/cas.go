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

// Package cas implements spec.md §4.5's content-CAS map: given a content
// hash, a fetch URL and optional extra digests, ensure a matching blob is
// present in a local, content-addressed store, trying (in order) the
// local store, the configured dist-dirs, and finally the network.
//
// The local store mirrors internal/gitcas's loose-object layout: blobs
// live under a two-level hex-prefixed directory tree, and a
// github.com/dgraph-io/badger/v3 index records (digest, size, first-seen)
// so repeated lookups and dist-dir-miss diagnostics don't require a
// directory walk. The index is a cache over the blob tree, not a source
// of truth: a lookup that misses the index but finds the blob on disk
// repairs the index entry instead of treating the blob as absent.
package cas

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v3"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/common/logging"
	"go.chromium.org/mrsetup/common/retry"
)

// Digest is a lowercase-hex content hash, in the store's own hashing
// scheme (sha256 over the raw blob bytes).
type Digest string

// indexEntry is what the badger index stores per digest.
type indexEntry struct {
	Size      int64 `json:"size"`
	FirstSeen int64 `json:"first_seen_unix_nano"`
}

// Store is the local two-level content-addressed blob tree plus its
// badger-backed lookup index.
type Store struct {
	root  string
	index *badger.DB
}

// Open opens (creating if necessary) a Store rooted at dir.
func Open(dir string) (*Store, error) {
	blobs := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobs, 0o755); err != nil {
		return nil, errors.Annotate(err, "creating CAS blob tree").InternalReason("dir(%q)", blobs).Err()
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "index")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotate(err, "opening CAS index").Err()
	}
	return &Store{root: dir, index: db}, nil
}

// Close releases the index's file handles.
func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) blobPath(d Digest) string {
	h := string(d)
	if len(h) < 3 {
		return filepath.Join(s.root, "blobs", "_short", h)
	}
	return filepath.Join(s.root, "blobs", h[:2], h[2:])
}

// Has reports whether a blob matching d is already present, repairing a
// stale or missing index entry against the blob tree (the source of
// truth) when the two disagree.
func (s *Store) Has(d Digest) (bool, error) {
	if ok, err := s.indexHas(d); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	fi, err := os.Stat(s.blobPath(d))
	switch {
	case err == nil:
		return true, s.recordIndex(d, fi.Size())
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.Annotate(err, "statting CAS blob").InternalReason("digest(%s)", d).Err()
	}
}

func (s *Store) indexHas(d Digest) (bool, error) {
	err := s.index.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(d))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case err == badger.ErrKeyNotFound:
		return false, nil
	default:
		return false, errors.Annotate(err, "reading CAS index").Err()
	}
}

func (s *Store) recordIndex(d Digest, size int64) error {
	entry := indexEntry{Size: size, FirstSeen: time.Now().UnixNano()}
	buf, err := json.Marshal(entry)
	if err != nil {
		return errors.Annotate(err, "encoding CAS index entry").Err()
	}
	err = s.index.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(d), buf)
	})
	if err != nil {
		return errors.Annotate(err, "writing CAS index entry").Err()
	}
	return nil
}

// Insert copies the contents of r into the store under d, which the
// caller has already verified matches the digest of those contents. The
// write is staged into a sibling temp file and renamed into place so a
// concurrent Has/Open never observes a partially written blob.
func (s *Store) Insert(d Digest, r io.Reader) error {
	path := s.blobPath(d)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Annotate(err, "creating CAS blob directory").Err()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".insert-*")
	if err != nil {
		return errors.Annotate(err, "creating CAS staging file").Err()
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return errors.Annotate(err, "staging CAS blob").InternalReason("digest(%s)", d).Err()
	}
	if err := tmp.Close(); err != nil {
		return errors.Annotate(err, "closing CAS staging file").Err()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Annotate(err, "installing CAS blob").InternalReason("digest(%s)", d).Err()
	}
	return s.recordIndex(d, n)
}

// Path returns the on-disk path a blob stored under d occupies, for
// callers (e.g. archive extraction) that need direct file access rather
// than a stream.
func (s *Store) Path(d Digest) string {
	return s.blobPath(d)
}

// Open returns a reader over the blob stored under d.
func (s *Store) Open(d Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(d))
	if err != nil {
		return nil, errors.Annotate(err, "opening CAS blob").InternalReason("digest(%s)", d).Err()
	}
	return f, nil
}

// HashBytes computes the store's content digest of b.
func HashBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// hashReader computes the store's content digest of r, and, if want256/
// want512 are non-empty, additionally verifies the matching extra
// digests spec.md §4.5 allows a descriptor to supply.
func hashReader(r io.Reader, want256, want512 string) (Digest, error) {
	h256 := sha256.New()
	h512 := sha512.New()
	hMain := sha256.New()
	if _, err := io.Copy(io.MultiWriter(h256, h512, hMain), r); err != nil {
		return "", errors.Annotate(err, "hashing content").Err()
	}
	if want256 != "" && !strings.EqualFold(hex.EncodeToString(h256.Sum(nil)), want256) {
		return "", errors.Reason("sha256 mismatch: want %s", want256).Fatal().Err()
	}
	if want512 != "" && !strings.EqualFold(hex.EncodeToString(h512.Sum(nil)), want512) {
		return "", errors.Reason("sha512 mismatch: want %s", want512).Fatal().Err()
	}
	return Digest(hex.EncodeToString(hMain.Sum(nil))), nil
}

// Key is the content-CAS map's key: the declared content hash plus
// everything needed to locate and re-derive it on a miss.
type Key struct {
	ContentHash Digest
	FetchURL    string
	Distfile    string
	SHA256      string
	SHA512      string
}

// Value is what a successful resolution produces.
type Value struct {
	Digest    Digest
	FromCache bool
}

// Transport fetches the bytes at url. Implementations are expected to
// apply their own timeout; Fetcher wraps calls with common/retry.
type Transport interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Fetcher implements the content-CAS map's Compute function (see
// internal/asyncmap): local store, then dist-dirs, then network, in that
// order, per spec.md §4.5.
type Fetcher struct {
	Store     *Store
	Distdirs  []string
	Transport Transport
	Retry     retry.Factory
}

// transientError wraps a network error that is worth retrying (as
// opposed to a content/digest mismatch, which never is).
type transientError struct{ cause error }

func (t *transientError) Error() string { return t.cause.Error() }
func (t *transientError) Unwrap() error { return t.cause }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Resolve runs the content-CAS map's resolution order for key.
func (f *Fetcher) Resolve(ctx context.Context, key Key) (Value, error) {
	if ok, err := f.Store.Has(key.ContentHash); err != nil {
		return Value{}, err
	} else if ok {
		return Value{Digest: key.ContentHash, FromCache: true}, nil
	}

	if v, ok, err := f.tryDistdirs(ctx, key); err != nil {
		return Value{}, err
	} else if ok {
		return v, nil
	}

	return f.fetchNetwork(ctx, key)
}

func distfileName(key Key) string {
	if key.Distfile != "" {
		return key.Distfile
	}
	if u, err := url.Parse(key.FetchURL); err == nil {
		if base := filepath.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return filepath.Base(key.FetchURL)
}

func (f *Fetcher) tryDistdirs(ctx context.Context, key Key) (Value, bool, error) {
	name := distfileName(key)
	for _, dir := range f.Distdirs {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logging.Get(ctx).LogCall(logging.Warning, 0, "dist-dir read error for %s: %v", []any{path, err})
			continue
		}
		got, err := hashReader(strings.NewReader(string(data)), "", "")
		if err != nil {
			continue
		}
		if got != key.ContentHash {
			// A dist-dir miss is diagnostic only, per spec.md §4.5: proceed
			// to the next dist-dir, then the network, rather than failing.
			logging.Get(ctx).LogCall(logging.Info, 0, "dist-dir %s did not match content hash for %s", []any{path, name})
			continue
		}
		if err := f.Store.Insert(key.ContentHash, strings.NewReader(string(data))); err != nil {
			return Value{}, false, err
		}
		return Value{Digest: key.ContentHash}, true, nil
	}
	return Value{}, false, nil
}

func (f *Fetcher) fetchNetwork(ctx context.Context, key Key) (Value, error) {
	if f.Transport == nil {
		return Value{}, errors.Reason("no transport configured to fetch %s", key.FetchURL).Fatal().Err()
	}

	factory := f.Retry
	if factory == nil {
		factory = retry.Default
	}
	iter := factory(ctx)

	var data []byte
	err := retry.Retry(ctx, iter, isTransient, func() error {
		rc, err := f.Transport.Fetch(ctx, key.FetchURL)
		if err != nil {
			return &transientError{err}
		}
		defer rc.Close()
		buf, err := io.ReadAll(rc)
		if err != nil {
			return &transientError{err}
		}
		data = buf
		return nil
	})
	if err != nil {
		if te, ok := err.(*transientError); ok {
			err = te.cause
		}
		return Value{}, errors.Annotate(err, "fetching %s", key.FetchURL).Fatal().Err()
	}

	got, err := hashReader(strings.NewReader(string(data)), key.SHA256, key.SHA512)
	if err != nil {
		return Value{}, errors.Annotate(err, "verifying fetched content for %s", key.FetchURL).Fatal().Err()
	}
	if got != key.ContentHash {
		return Value{}, errors.Reason("content hash mismatch for %s: declared %s, got %s", key.FetchURL, key.ContentHash, got).Fatal().Err()
	}
	if err := f.Store.Insert(key.ContentHash, strings.NewReader(string(data))); err != nil {
		return Value{}, err
	}
	return Value{Digest: key.ContentHash}, nil
}
