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

// Package setup drives spec.md §4.8: given the to_setup list the
// resolver computed, it materializes every repository's roots through
// whichever map applies (archives through internal/cas plus
// internal/importgit, generators through internal/gittree, file and git
// tree roots passed through unchanged) and produces the rewritten
// configuration document a build can consume directly, in the shape
// `{ "main": …, "repositories": { … } }`.
package setup

import (
	"context"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/internal/cas"
	"go.chromium.org/mrsetup/internal/gittree"
	"go.chromium.org/mrsetup/internal/importgit"
	"go.chromium.org/mrsetup/internal/mrconfig"
	"go.chromium.org/mrsetup/internal/tempdir"
)

// archiveRepoPath is the repo_path element of the `git tree` root an
// imported archive is rewritten to: the extraction directory already is
// the descriptor's subdir, so the imported tree's root is the repo root.
const archiveRepoPath = "."

// Driver materializes repository roots named by to_setup into the
// rewritten configuration, per spec.md §4.8.
type Driver struct {
	CAS      *cas.Fetcher
	Importer *importgit.Importer
	GitTree  *gittree.Fetcher
	Tempdirs *tempdir.Factory
}

// Run produces the rewritten configuration for mainName, materializing
// every repository named in toSetup (in order) out of cfg.
func (d *Driver) Run(ctx context.Context, cfg *mrconfig.Config, mainName string, toSetup []string) (*mrconfig.Config, error) {
	out := &mrconfig.Config{Main: mainName, Repositories: map[string]*mrconfig.Descriptor{}}
	for _, name := range toSetup {
		desc, ok := cfg.Repositories[name]
		if !ok {
			return nil, errors.Reason("repository %q named in to_setup but not defined", name).Fatal().Err()
		}
		rewritten, err := d.materializeDescriptor(ctx, name, desc)
		if err != nil {
			return nil, errors.Annotate(err, "setting up %q", name).Err()
		}
		out.Repositories[name] = rewritten
	}
	return out, nil
}

// materializeDescriptor copies desc, replacing each of its root fields
// (repository, target_root, rule_root, expression_root) with its
// materialized form. Bindings, file names, pragma and unknown fields are
// preserved verbatim.
func (d *Driver) materializeDescriptor(ctx context.Context, name string, desc *mrconfig.Descriptor) (*mrconfig.Descriptor, error) {
	out := *desc

	rep, err := d.materializeRoot(ctx, name, desc.Repository)
	if err != nil {
		return nil, err
	}
	out.Repository = rep

	for _, pair := range []struct {
		field **mrconfig.RootSpec
		label string
	}{
		{&out.TargetRoot, "target_root"},
		{&out.RuleRoot, "rule_root"},
		{&out.ExpressionRoot, "expression_root"},
	} {
		if *pair.field == nil {
			continue
		}
		root, err := d.materializeRoot(ctx, name, **pair.field)
		if err != nil {
			return nil, errors.Annotate(err, "%s", pair.label).Err()
		}
		*pair.field = &root
	}
	return &out, nil
}

// materializeRoot returns root unchanged if it is an indirection or
// already a literal file/git-tree root (per spec.md §4.8, only archives
// and generators get rewritten), otherwise runs the appropriate map and
// returns a `git tree` literal pointing at the result.
func (d *Driver) materializeRoot(ctx context.Context, origin string, root mrconfig.RootSpec) (mrconfig.RootSpec, error) {
	switch {
	case root.IsIndirection(), root.Literal != nil:
		return root, nil
	case root.Archive != nil:
		fr, err := d.materializeArchive(ctx, origin, root.Archive)
		if err != nil {
			return mrconfig.RootSpec{}, err
		}
		return mrconfig.RootSpec{Literal: &fr}, nil
	case root.Generator != nil:
		fr, err := d.materializeGenerator(ctx, origin, root.Generator)
		if err != nil {
			return mrconfig.RootSpec{}, err
		}
		return mrconfig.RootSpec{Literal: &fr}, nil
	default:
		return mrconfig.RootSpec{}, errors.Reason("root spec for %q has no variant set", origin).Fatal().Err()
	}
}

func (d *Driver) materializeArchive(ctx context.Context, origin string, arc *mrconfig.ArchiveDescriptor) (mrconfig.FileRoot, error) {
	kind := cas.Kind(arc.Type)
	switch kind {
	case cas.KindZip, cas.KindArchive:
	default:
		return mrconfig.FileRoot{}, errors.Reason("%q: unsupported archive type %q", origin, arc.Type).Fatal().Err()
	}

	key := cas.Key{
		ContentHash: cas.Digest(arc.Content),
		FetchURL:    arc.Fetch,
		Distfile:    arc.Distfile,
		SHA256:      arc.SHA256,
		SHA512:      arc.SHA512,
	}
	val, err := d.CAS.Resolve(ctx, key)
	if err != nil {
		return mrconfig.FileRoot{}, errors.Annotate(err, "%q: resolving archive content", origin).Err()
	}

	dest, err := d.Tempdirs.New("archive-" + origin)
	if err != nil {
		return mrconfig.FileRoot{}, errors.Annotate(err, "%q: allocating extraction directory", origin).Err()
	}
	defer dest.Close()

	if err := cas.Extract(d.CAS.Store.Path(val.Digest), kind, arc.Subdir, dest.Path()); err != nil {
		return mrconfig.FileRoot{}, errors.Annotate(err, "%q: extracting archive", origin).Err()
	}

	imported, err := d.Importer.Import(ctx, dest.Path(), "mrsetup import of "+origin)
	if err != nil {
		return mrconfig.FileRoot{}, errors.Annotate(err, "%q: importing extracted archive", origin).Err()
	}
	return mrconfig.NewGitTreeFileRoot(imported.TreeID, archiveRepoPath), nil
}

func (d *Driver) materializeGenerator(ctx context.Context, origin string, gen *mrconfig.GeneratorDescriptor) (mrconfig.FileRoot, error) {
	treeID, err := gen.TreeIDParsed()
	if err != nil {
		return mrconfig.FileRoot{}, errors.Annotate(err, "%q: parsing declared tree id", origin).Fatal().Err()
	}
	genOrigin := gen.Origin
	if genOrigin == "" {
		genOrigin = origin
	}
	_, err = d.GitTree.Resolve(ctx, gittree.Key{
		TreeID:     treeID,
		Command:    gen.Command,
		EnvVars:    gen.EnvVars,
		InheritEnv: gen.InheritEnv,
		Origin:     genOrigin,
	})
	if err != nil {
		return mrconfig.FileRoot{}, errors.Annotate(err, "%q: running generator", origin).Err()
	}
	return mrconfig.NewGitTreeFileRoot(treeID, archiveRepoPath), nil
}
