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

// Package gitcas adapts github.com/go-git/go-git/v5 into the Git object
// store contract the fetch/setup engine needs: open a bare object
// database, read objects and trees by id, import a directory as an
// orphan commit, and pin a tree against garbage collection with a keep
// tag. Mutation of a given store is the caller's responsibility to
// serialize (see internal/gitop); this package does not itself
// deduplicate concurrent writers to the same path.
package gitcas

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/internal/treeid"
)

// openMu guards git.PlainOpen/git.PlainInit: go-git's on-disk repository
// storage gives no documented guarantee of safe concurrent open against
// the same path, so every call in this process is serialized here.
// Handles returned by Open are themselves safe for concurrent reads.
var openMu sync.Mutex

// EntryType is a tree entry's kind, translated from a Git file mode.
type EntryType int

const (
	Blob EntryType = iota
	Executable
	Tree
	Symlink
)

// Entry is one (name, type) pairing for a child object inside a tree.
type Entry struct {
	Name string
	Type EntryType
}

// Handle owns an open connection to a bare Git object database.
type Handle struct {
	repo *git.Repository
	path string
}

// Open opens the bare Git store at path. It returns (nil, nil) if path is
// not a Git object store, matching the spec's `open(path) -> Handle?`.
func Open(path string) (*Handle, error) {
	openMu.Lock()
	defer openMu.Unlock()

	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotate(err, "opening git store").InternalReason("path(%q)", path).Err()
	}
	return &Handle{repo: repo, path: path}, nil
}

// EnsureBareInit idempotently creates a bare repository at path. The
// returned bool is true iff this call performed the initialization.
func EnsureBareInit(path string) (bool, error) {
	openMu.Lock()
	defer openMu.Unlock()

	_, err := git.PlainInit(path, true)
	if err == git.ErrRepositoryAlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, errors.Annotate(err, "initializing bare git store").InternalReason("path(%q)", path).Err()
	}
	return true, nil
}

// Path returns the filesystem path this Handle was opened against.
func (h *Handle) Path() string { return h.path }

func modeToType(m filemode.FileMode) (EntryType, error) {
	switch m {
	case filemode.Regular:
		return Blob, nil
	case filemode.Executable:
		return Executable, nil
	case filemode.Dir:
		return Tree, nil
	case filemode.Symlink:
		return Symlink, nil
	default:
		return 0, errors.Reason("unsupported git file mode %v", m).Err()
	}
}

// ReadHeader returns an object's size and type without reading its full
// payload. ok is false if id is not present.
func (h *Handle) ReadHeader(id treeid.ID) (size int64, typ plumbing.ObjectType, ok bool, err error) {
	obj, err := h.repo.Storer.EncodedObject(plumbing.AnyObject, plumbing.NewHash(id.String()))
	if err == plumbing.ErrObjectNotFound {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, errors.Annotate(err, "reading object header").InternalReason("id(%s)", id).Err()
	}
	return obj.Size(), obj.Type(), true, nil
}

// ReadObject returns an object's raw payload. ok is false if id is not
// present; any failure to read a present object (including a malformed
// one) is returned as an error.
func (h *Handle) ReadObject(id treeid.ID) (data []byte, typ plumbing.ObjectType, ok bool, err error) {
	obj, err := h.repo.Storer.EncodedObject(plumbing.AnyObject, plumbing.NewHash(id.String()))
	if err == plumbing.ErrObjectNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, errors.Annotate(err, "reading object").InternalReason("id(%s)", id).Err()
	}
	r, err := obj.Reader()
	if err != nil {
		return nil, 0, false, errors.Annotate(err, "opening object reader").InternalReason("id(%s)", id).Err()
	}
	defer r.Close()
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, 0, false, errors.Annotate(err, "reading object payload").InternalReason("id(%s)", id).Err()
	}
	return data, obj.Type(), true, nil
}

// CheckTreeExists reports whether id names a tree object in the store.
func (h *Handle) CheckTreeExists(id treeid.ID) (bool, error) {
	_, err := h.repo.Storer.EncodedObject(plumbing.TreeObject, plumbing.NewHash(id.String()))
	if err == plumbing.ErrObjectNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Annotate(err, "checking tree existence").InternalReason("id(%s)", id).Err()
	}
	return true, nil
}

// ReadTree walks one level of the tree named by id, returning every
// child's entries keyed by the child's own raw id. Per spec.md §4.3, a
// given child id always maps entirely to tree objects or entirely to
// blob-ish objects; this is not re-validated here, only relied upon.
func (h *Handle) ReadTree(id treeid.ID) (map[treeid.ID][]Entry, error) {
	tree, err := object.GetTree(h.repo.Storer, plumbing.NewHash(id.String()))
	if err != nil {
		return nil, errors.Annotate(err, "reading tree").InternalReason("id(%s)", id).Err()
	}
	out := make(map[treeid.ID][]Entry, len(tree.Entries))
	for _, e := range tree.Entries {
		childID, err := treeid.FromRaw(e.Hash[:])
		if err != nil {
			return nil, errors.Annotate(err, "decoding child id").Err()
		}
		t, err := modeToType(e.Mode)
		if err != nil {
			return nil, errors.Annotate(err, "entry %q in tree %s", e.Name, id).Err()
		}
		out[childID] = append(out[childID], Entry{Name: e.Name, Type: t})
	}
	return out, nil
}

var orphanSignature = object.Signature{
	Name:  "mrsetup",
	Email: "mrsetup@localhost",
}

// InitialCommit stages everything under dirPath, writes the resulting
// tree and a parentless commit referencing it into the store, and
// returns the tree id and the commit id. The tree itself becomes readable from the store
// as a side effect of writing the commit.
// InitialCommit imports dirPath as a Git tree and wraps it in an orphan
// commit (no parents, no working tree, no staging area — the store is
// bare), returning both the tree id and the commit id, per spec.md §4.6's
// import-to-git step (S6/S8) and its later tree-id verification (S9).
func (h *Handle) InitialCommit(dirPath, message string) (treeID, commitID treeid.ID, err error) {
	rootTree, err := h.writeTreeRecursive(dirPath)
	if err != nil {
		return treeid.ID{}, treeid.ID{}, errors.Annotate(err, "writing tree for %q", dirPath).Err()
	}

	now := time.Now()
	sig := orphanSignature
	sig.When = now

	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  plumbing.NewHash(rootTree.String()),
	}
	obj := h.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return treeid.ID{}, treeid.ID{}, errors.Annotate(err, "encoding commit").Err()
	}
	hash, err := h.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return treeid.ID{}, treeid.ID{}, errors.Annotate(err, "writing commit object").Err()
	}
	id, err := treeid.FromRaw(hash[:])
	if err != nil {
		return treeid.ID{}, treeid.ID{}, err
	}
	return rootTree, id, nil
}

func (h *Handle) writeTreeRecursive(dirPath string) (treeid.ID, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return treeid.ID{}, errors.Annotate(err, "reading directory").InternalReason("path(%q)", dirPath).Err()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var tree object.Tree
	for _, de := range entries {
		full := filepath.Join(dirPath, de.Name())
		info, err := os.Lstat(full)
		if err != nil {
			return treeid.ID{}, errors.Annotate(err, "lstat").InternalReason("path(%q)", full).Err()
		}

		var (
			mode    filemode.FileMode
			hash    plumbing.Hash
			childID treeid.ID
		)
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return treeid.ID{}, errors.Annotate(err, "readlink").InternalReason("path(%q)", full).Err()
			}
			hash, err = h.writeBlob([]byte(target))
			if err != nil {
				return treeid.ID{}, err
			}
			mode = filemode.Symlink
		case info.IsDir():
			childID, err = h.writeTreeRecursive(full)
			if err != nil {
				return treeid.ID{}, err
			}
			hash = plumbing.NewHash(childID.String())
			mode = filemode.Dir
		default:
			data, err := os.ReadFile(full)
			if err != nil {
				return treeid.ID{}, errors.Annotate(err, "reading file").InternalReason("path(%q)", full).Err()
			}
			hash, err = h.writeBlob(data)
			if err != nil {
				return treeid.ID{}, err
			}
			if info.Mode()&0111 != 0 {
				mode = filemode.Executable
			} else {
				mode = filemode.Regular
			}
		}

		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: de.Name(),
			Mode: mode,
			Hash: hash,
		})
	}

	obj := h.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return treeid.ID{}, errors.Annotate(err, "encoding tree").Err()
	}
	hash, err := h.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return treeid.ID{}, errors.Annotate(err, "writing tree object").Err()
	}
	return treeid.FromRaw(hash[:])
}

func (h *Handle) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := h.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, errors.Annotate(err, "opening blob writer").Err()
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, errors.Annotate(err, "writing blob").Err()
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, errors.Annotate(err, "closing blob writer").Err()
	}
	return h.repo.Storer.SetEncodedObject(obj)
}

// keepRefPrefix namespaces keep tags away from any ref a real checkout
// might create, so they are never mistaken for branches or user tags.
const keepRefPrefix = "refs/mrsetup/keep/"

// KeepTag writes an annotated tag object referencing commitID under a
// reserved ref namespace, so the commit (and its tree) stays reachable
// from garbage collection.
func (h *Handle) KeepTag(commitID treeid.ID, message string) error {
	sig := orphanSignature
	sig.When = time.Now()

	tag := &object.Tag{
		Name:       "keep-" + commitID.String(),
		Tagger:     sig,
		Message:    message,
		TargetType: plumbing.CommitObject,
		Target:     plumbing.NewHash(commitID.String()),
	}
	obj := h.repo.Storer.NewEncodedObject()
	if err := tag.Encode(obj); err != nil {
		return errors.Annotate(err, "encoding keep tag").Err()
	}
	tagHash, err := h.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return errors.Annotate(err, "writing keep tag object").Err()
	}

	ref := plumbing.NewHashReference(plumbing.ReferenceName(keepRefPrefix+commitID.String()), tagHash)
	if err := h.repo.Storer.SetReference(ref); err != nil {
		return errors.Annotate(err, "setting keep tag ref").Err()
	}
	return nil
}

// SetBranchHead points refs/heads/master at commitID, giving a freshly
// bare-initialized store (whose HEAD is the unborn symbolic ref go-git's
// init sets by default) a resolvable HEAD. Used for the private,
// non-shared working store a tree-generator's output is committed into,
// so FetchViaTmpRepo can later fetch "HEAD" from it.
func (h *Handle) SetBranchHead(commitID treeid.ID) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), plumbing.NewHash(commitID.String()))
	if err := h.repo.Storer.SetReference(ref); err != nil {
		return errors.Annotate(err, "setting branch head").Err()
	}
	return nil
}

// Storer exposes the underlying go-git storage.Storer, for components
// (e.g. fetch-via-tmp-repo) that need to point a second, temporary
// repository's object database at this same store.
func (h *Handle) Storer() storage.Storer { return h.repo.Storer }
