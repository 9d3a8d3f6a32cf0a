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

// Package resolver computes the repository dependency closure over a
// parsed configuration (spec.md §4.7): the set of repositories reachable
// from a chosen main repository through its binding graph, the overlay
// roots that closure additionally needs set up, and indirection-chain
// resolution of a single repository's effective descriptor.
package resolver

import (
	"sort"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/internal/asyncmap"
	"go.chromium.org/mrsetup/internal/mrconfig"
)

// Resolver answers dependency-closure and indirection questions against a
// fixed configuration.
type Resolver struct {
	cfg *mrconfig.Config
}

// New creates a Resolver over cfg.
func New(cfg *mrconfig.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// DefaultMain returns the lexicographically smallest repository name,
// per spec.md §4.7's rule for when the user does not specify one. ok is
// false if the configuration has no repositories at all.
func (r *Resolver) DefaultMain() (name string, ok bool) {
	names := r.cfg.RepositoryNames()
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// ReachableRepositories computes to_include, the reflexive-transitive
// closure of the binding graph rooted at main (insertion-order traversal,
// deduplicated — a later-visited name is skipped, not re-added), and
// to_setup, to_include plus every repository named as an overlay root
// (target_root/rule_root/expression_root indirection) by a member of
// to_include.
//
// A repository's bindings are a map, which Go does not iterate in a
// stable order; this resolver visits binding targets in sorted-key order
// so to_include's traversal order is deterministic and reproducible
// across runs, an explicit strengthening of the original's raw iteration
// order (recorded as an open-question decision in DESIGN.md).
func (r *Resolver) ReachableRepositories(main string) (toInclude, toSetup []string, err error) {
	seen := map[string]bool{}
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		order = append(order, name)

		desc, ok := r.cfg.Repositories[name]
		if !ok {
			return errors.Reason("repository %q referenced but not defined", name).Fatal().Err()
		}
		keys := make([]string, 0, len(desc.Bindings))
		for k := range desc.Bindings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := visit(desc.Bindings[k]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(main); err != nil {
		return nil, nil, err
	}
	toInclude = order

	toSetup = append([]string{}, toInclude...)
	setupSeen := make(map[string]bool, len(toInclude))
	for _, n := range toInclude {
		setupSeen[n] = true
	}
	for _, n := range toInclude {
		desc := r.cfg.Repositories[n]
		if desc.IsGenericPragma() {
			continue
		}
		for _, root := range []*mrconfig.RootSpec{desc.TargetRoot, desc.RuleRoot, desc.ExpressionRoot} {
			if root == nil || !root.IsIndirection() {
				continue
			}
			if !setupSeen[root.Indirection] {
				setupSeen[root.Indirection] = true
				toSetup = append(toSetup, root.Indirection)
			}
		}
	}
	return toInclude, toSetup, nil
}

// DefaultReachableRepositories returns the full repository key set (in a
// stable, sorted order) for both to_include and to_setup, used for a
// global fetch that does not pivot on any single main repository.
func (r *Resolver) DefaultReachableRepositories() (toInclude, toSetup []string) {
	names := r.cfg.RepositoryNames()
	toSetup = make([]string, len(names))
	copy(toSetup, names)
	return names, toSetup
}

// ResolveRepo follows name's repository indirection chain (a `repository`
// field holding a bare string means "use that repository's workspace
// root instead") until it reaches a repository whose `repository` field
// is a literal file root, archive descriptor, or generator descriptor.
// It returns that terminal descriptor and its name.
func (r *Resolver) ResolveRepo(name string) (desc *mrconfig.Descriptor, terminalName string, err error) {
	return r.resolveRepo(name, nil)
}

func (r *Resolver) resolveRepo(name string, ancestors asyncmap.Ancestors[string]) (*mrconfig.Descriptor, string, error) {
	if ancestors.Has(name) {
		return nil, "", asyncmap.CycleError(name)
	}
	desc, ok := r.cfg.Repositories[name]
	if !ok {
		return nil, "", errors.Reason("repository %q referenced but not defined", name).Fatal().Err()
	}
	if !desc.Repository.IsIndirection() {
		return desc, name, nil
	}
	return r.resolveRepo(desc.Repository.Indirection, ancestors.With(name))
}
