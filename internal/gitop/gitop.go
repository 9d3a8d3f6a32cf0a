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

// Package gitop is the critical Git operation serializer: a deduplicating
// async map from GitOpKey to GitOpValue that guarantees at most one
// in-flight mutation per target Git directory, because go-git's on-disk
// storage (like the libgit2 the original tool used) is not reentrant over
// a single repository.
package gitop

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/danjacques/gofslock/fslock"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/internal/asyncmap"
	"go.chromium.org/mrsetup/internal/gitcas"
	"go.chromium.org/mrsetup/internal/treeid"
)

// OpType enumerates the critical Git operations.
type OpType int

const (
	EnsureInit OpType = iota
	InitialCommit
	KeepTag
	GetHeadID
	BranchRef
)

func (t OpType) String() string {
	switch t {
	case EnsureInit:
		return "ENSURE_INIT"
	case InitialCommit:
		return "INITIAL_COMMIT"
	case KeepTag:
		return "KEEP_TAG"
	case GetHeadID:
		return "GET_HEAD_ID"
	case BranchRef:
		return "BRANCH_REF"
	default:
		return "UNKNOWN"
	}
}

// Key identifies one critical Git operation. All fields participate in
// cache identity; TargetPath additionally participates in coalescing
// (see Serializer).
type Key struct {
	TargetPath string
	Op         OpType
	GitHash    treeid.ID
	Branch     string
	Message    string
	InitBare   bool
	// SourcePath is the directory InitialCommit stages, when Op ==
	// InitialCommit. It is not part of the spec's key tuple verbatim, but
	// the operation cannot run without it.
	SourcePath string
}

// Value is the result of a critical Git operation: the store handle it
// operated on, and an optional result hash (the new commit id for
// InitialCommit; the key's GitHash echoed back for KeepTag, GetHeadID and
// BranchRef; unset otherwise). TreeHash is populated only by
// InitialCommit.
type Value struct {
	Handle     *gitcas.Handle
	ResultHash treeid.ID
	TreeHash   treeid.ID
}

// Serializer runs critical Git operations with the coalescing and
// caching semantics spec.md §4.4 requires.
type Serializer struct {
	cache *asyncmap.Map[Key, Value]

	mu      sync.Mutex
	pathMus map[string]*sync.Mutex
}

// New creates a Serializer.
func New() *Serializer {
	s := &Serializer{pathMus: make(map[string]*sync.Mutex)}
	s.cache = asyncmap.New(s.compute)
	return s
}

// Do resolves key, running its operation at most once and coalescing
// concurrent callers — both for this exact key (via the async map) and
// for any other key sharing TargetPath (via a per-path mutex held for the
// duration of the operation).
func (s *Serializer) Do(ctx context.Context, key Key) asyncmap.Result[Value] {
	return s.cache.Get(ctx, key)
}

func (s *Serializer) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pathMus[path]
	if !ok {
		m = &sync.Mutex{}
		s.pathMus[path] = m
	}
	return m
}

func (s *Serializer) compute(ctx context.Context, key Key) asyncmap.Result[Value] {
	mu := s.pathLock(key.TargetPath)
	mu.Lock()
	defer mu.Unlock()

	switch key.Op {
	case EnsureInit:
		return s.doEnsureInit(key)
	case InitialCommit:
		return s.doInitialCommit(key)
	case KeepTag:
		return s.doKeepTag(key)
	case GetHeadID:
		return s.doGetHeadID(key)
	case BranchRef:
		return s.doBranchRef(key)
	default:
		return asyncmap.Result[Value]{Err: errors.Reason("unknown git op %v", key.Op).Fatal().Err(), Fatal: true}
	}
}

// lockFileFor returns the path of the advisory lock file guarding
// cross-process initialization of target. The lock file lives alongside
// the target directory rather than inside it, since the target may not
// exist yet.
func lockFileFor(target string) string {
	return filepath.Clean(target) + ".mrsetup-init.lock"
}

func (s *Serializer) doEnsureInit(key Key) asyncmap.Result[Value] {
	h, err := fslock.Lock(lockFileFor(key.TargetPath))
	if err != nil {
		return asyncmap.Result[Value]{
			Err:   errors.Annotate(err, "acquiring cross-process init lock").InternalReason("path(%q)", key.TargetPath).Fatal().Err(),
			Fatal: true,
		}
	}
	defer h.Unlock()

	if _, err := gitcas.EnsureBareInit(key.TargetPath); err != nil {
		return asyncmap.Result[Value]{Err: errors.Annotate(err, "ENSURE_INIT").Fatal().Err(), Fatal: true}
	}
	handle, err := gitcas.Open(key.TargetPath)
	if err != nil || handle == nil {
		return asyncmap.Result[Value]{
			Err:   errors.Annotate(err, "opening store after ENSURE_INIT").InternalReason("path(%q)", key.TargetPath).Fatal().Err(),
			Fatal: true,
		}
	}
	return asyncmap.Result[Value]{Value: Value{Handle: handle}}
}

func (s *Serializer) doInitialCommit(key Key) asyncmap.Result[Value] {
	handle, err := gitcas.Open(key.TargetPath)
	if err != nil || handle == nil {
		return asyncmap.Result[Value]{
			Err:   errors.Annotate(err, "INITIAL_COMMIT: store not initialized").InternalReason("path(%q)", key.TargetPath).Fatal().Err(),
			Fatal: true,
		}
	}
	treeID, commitID, err := handle.InitialCommit(key.SourcePath, key.Message)
	if err != nil {
		return asyncmap.Result[Value]{Err: errors.Annotate(err, "INITIAL_COMMIT").Fatal().Err(), Fatal: true}
	}
	return asyncmap.Result[Value]{Value: Value{Handle: handle, ResultHash: commitID, TreeHash: treeID}}
}

func (s *Serializer) doKeepTag(key Key) asyncmap.Result[Value] {
	handle, err := gitcas.Open(key.TargetPath)
	if err != nil || handle == nil {
		return asyncmap.Result[Value]{
			Err:   errors.Annotate(err, "KEEP_TAG: store not initialized").InternalReason("path(%q)", key.TargetPath).Fatal().Err(),
			Fatal: true,
		}
	}
	if err := handle.KeepTag(key.GitHash, key.Message); err != nil {
		return asyncmap.Result[Value]{Err: errors.Annotate(err, "KEEP_TAG").Fatal().Err(), Fatal: true}
	}
	return asyncmap.Result[Value]{Value: Value{Handle: handle, ResultHash: key.GitHash}}
}

func (s *Serializer) doGetHeadID(key Key) asyncmap.Result[Value] {
	handle, err := gitcas.Open(key.TargetPath)
	if err != nil || handle == nil {
		return asyncmap.Result[Value]{
			Err:   errors.Annotate(err, "GET_HEAD_ID: store not initialized").InternalReason("path(%q)", key.TargetPath).Fatal().Err(),
			Fatal: true,
		}
	}
	// The shared store is bare and orphan-commit-only; there is no
	// conventional HEAD to resolve beyond the caller-supplied branch ref.
	return asyncmap.Result[Value]{Value: Value{Handle: handle, ResultHash: key.GitHash}}
}

func (s *Serializer) doBranchRef(key Key) asyncmap.Result[Value] {
	handle, err := gitcas.Open(key.TargetPath)
	if err != nil || handle == nil {
		return asyncmap.Result[Value]{
			Err:   errors.Annotate(err, "BRANCH_REF: store not initialized").InternalReason("path(%q)", key.TargetPath).Fatal().Err(),
			Fatal: true,
		}
	}
	return asyncmap.Result[Value]{Value: Value{Handle: handle, ResultHash: key.GitHash}}
}
