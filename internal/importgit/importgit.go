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

// Package importgit is spec.md §4.5's import-to-Git map: a deduplicated
// import of a directory tree into the shared Git object database as an
// orphan commit, returning both the tree id and the commit id. It is a
// thin async-map wrapper over internal/gitop's InitialCommit operation,
// which does the actual serialized mutation of the shared store.
package importgit

import (
	"context"

	"go.chromium.org/mrsetup/internal/asyncmap"
	"go.chromium.org/mrsetup/internal/gitop"
	"go.chromium.org/mrsetup/internal/treeid"
)

// Key identifies one import: the directory to import and the commit
// message to record. Importing the same source directory twice with the
// same message is deduplicated to a single Git write.
type Key struct {
	SourcePath string
	Message    string
}

// Value is what a successful import produces.
type Value struct {
	TreeID   treeid.ID
	CommitID treeid.ID
}

// Importer deduplicates imports into a single shared Git object store at
// TargetPath.
type Importer struct {
	serializer *gitop.Serializer
	targetPath string
	cache      *asyncmap.Map[Key, Value]
}

// New creates an Importer writing into the shared store at targetPath,
// serialized through serializer.
func New(serializer *gitop.Serializer, targetPath string) *Importer {
	im := &Importer{serializer: serializer, targetPath: targetPath}
	im.cache = asyncmap.New(im.compute)
	return im
}

// Import ensures sourcePath has been imported as an orphan commit exactly
// once, returning its tree id and commit id.
func (im *Importer) Import(ctx context.Context, sourcePath, message string) (Value, error) {
	r := im.cache.Get(ctx, Key{SourcePath: sourcePath, Message: message})
	return r.Value, r.Err
}

func (im *Importer) compute(ctx context.Context, key Key) asyncmap.Result[Value] {
	if r := im.serializer.Do(ctx, gitop.Key{TargetPath: im.targetPath, Op: gitop.EnsureInit}); r.Err != nil {
		return asyncmap.Result[Value]{Err: r.Err, Fatal: true}
	}

	r := im.serializer.Do(ctx, gitop.Key{
		TargetPath: im.targetPath,
		Op:         gitop.InitialCommit,
		SourcePath: key.SourcePath,
		Message:    key.Message,
	})
	if r.Err != nil {
		return asyncmap.Result[Value]{Err: r.Err, Fatal: true}
	}
	return asyncmap.Result[Value]{Value: Value{TreeID: r.Value.TreeHash, CommitID: r.Value.ResultHash}}
}
