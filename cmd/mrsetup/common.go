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

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maruel/subcommands"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/common/logging"
	"go.chromium.org/mrsetup/common/logging/gologger"
	"go.chromium.org/mrsetup/internal/cas"
	"go.chromium.org/mrsetup/internal/gitcas"
	"go.chromium.org/mrsetup/internal/gitop"
	"go.chromium.org/mrsetup/internal/gittree"
	"go.chromium.org/mrsetup/internal/importgit"
	"go.chromium.org/mrsetup/internal/mrconfig"
	"go.chromium.org/mrsetup/internal/progress"
	"go.chromium.org/mrsetup/internal/resolver"
	"go.chromium.org/mrsetup/internal/setup"
	"go.chromium.org/mrsetup/internal/tempdir"
)

// stringSlice collects repeated occurrences of a flag (e.g. -distdir)
// into an ordered slice.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// baseFlags are the flags every mrsetup subcommand accepts.
type baseFlags struct {
	subcommands.CommandRunBase

	configPath     string
	runControlPath string
	buildRoot      string
	mainRepo       string
	distdirs       stringSlice
	verbose        bool
}

func (f *baseFlags) registerBaseFlags() {
	f.Flags.StringVar(&f.configPath, "C", "", "path to the repository configuration JSON file")
	f.Flags.StringVar(&f.runControlPath, "L", "", "path to a run-control file (see internal/mrconfig's RunControl)")
	f.Flags.StringVar(&f.buildRoot, "build-root", "", "local build root; overrides the run-control-resolved location")
	f.Flags.StringVar(&f.mainRepo, "main", "", "main repository name; defaults to the config's own \"main\" field, then the lexicographically smallest repository")
	f.Flags.Var(&f.distdirs, "distdir", "a dist-dir to search before fetching over the network (repeatable)")
	f.Flags.BoolVar(&f.verbose, "v", false, "print a periodic progress summary to stderr")
}

// setupContext builds a context carrying a gologger sink at the
// configured verbosity.
func (f *baseFlags) setupContext() context.Context {
	level := logging.Info
	if f.verbose {
		level = logging.Debug
	}
	ctx := logging.Use(context.Background(), gologger.New(gologger.LoggerConfig{Level: level, Colorize: true}))
	return logging.SetLevel(ctx, level)
}

// loadConfig reads and parses the repository configuration named by -C.
func (f *baseFlags) loadConfig() (*mrconfig.Config, error) {
	if f.configPath == "" {
		return nil, errors.Reason("-C <config> is required").Fatal().Err()
	}
	data, err := os.ReadFile(f.configPath)
	if err != nil {
		return nil, errors.Annotate(err, "reading repository configuration").Fatal().Err()
	}
	var cfg mrconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Annotate(err, "parsing repository configuration").Fatal().Err()
	}
	return &cfg, nil
}

// resolveBuildRoot returns -build-root if set, otherwise the first usable
// "local build root" location named by the run-control file at -L,
// resolved against the workspace root detected from the current
// directory (per spec.md §8's non-fatal workspace-boundary behavior).
func (f *baseFlags) resolveBuildRoot() (string, error) {
	if f.buildRoot != "" {
		return f.buildRoot, nil
	}
	if f.runControlPath == "" {
		return "", errors.Reason("must provide -build-root or -L").Fatal().Err()
	}
	data, err := os.ReadFile(f.runControlPath)
	if err != nil {
		return "", errors.Annotate(err, "reading run-control file").Fatal().Err()
	}
	rc, err := mrconfig.ParseRunControl(data)
	if err != nil {
		return "", errors.Annotate(err, "parsing run-control file").Fatal().Err()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.Annotate(err, "getting working directory").Err()
	}
	wsRoot, wsOK, err := mrconfig.DetectWorkspaceRoot(cwd)
	if err != nil {
		return "", errors.Annotate(err, "detecting workspace root").Err()
	}
	if !wsOK {
		wsRoot = ""
	}
	for _, loc := range rc.LocalBuildRoot {
		resolved, ok, err := loc.Resolve(wsRoot)
		if err != nil {
			return "", errors.Annotate(err, "resolving local build root location").Err()
		}
		if ok {
			return resolved.Path, nil
		}
		logging.Warningf(f.setupContext(), "skipping workspace-rooted local build root %q: no workspace root detected", loc.Path)
	}
	return "", errors.Reason("run-control file names no usable \"local build root\" location").Fatal().Err()
}

// engine bundles the maps and driver a subcommand needs, wired against one
// local build root.
type engine struct {
	resolver *resolver.Resolver
	driver   *setup.Driver
	reporter *progress.Reporter
	casStore *cas.Store
}

func (f *baseFlags) newEngine(ctx context.Context, cfg *mrconfig.Config, buildRoot string) (*engine, func(), error) {
	ops := gitop.New()
	storePath := filepath.Join(buildRoot, "git")
	tf, err := tempdir.NewFactory(filepath.Join(buildRoot, "tmp"))
	if err != nil {
		return nil, nil, errors.Annotate(err, "creating scratch directory").Err()
	}
	casStore, err := cas.Open(filepath.Join(buildRoot, "cas"))
	if err != nil {
		return nil, nil, errors.Annotate(err, "opening content-CAS store").Err()
	}

	reporter := progress.New()
	fetcher := &cas.Fetcher{Store: casStore, Distdirs: f.distdirs, Transport: &cas.HTTPTransport{}}
	importer := importgit.New(ops, storePath)
	gt := gittree.New(storePath, ops, tf, gitcas.Launcher{}, reporter)

	stopTicker := startProgressTicker(ctx, reporter)
	cleanup := func() {
		stopTicker()
		casStore.Close()
	}

	e := &engine{
		resolver: resolver.New(cfg),
		driver: &setup.Driver{
			CAS:      fetcher,
			Importer: importer,
			GitTree:  gt,
			Tempdirs: tf,
		},
		reporter: reporter,
		casStore: casStore,
	}
	return e, cleanup, nil
}

// startProgressTicker, when ctx is configured to log at debug level (-v),
// periodically logs a snapshot of in-flight origins so a long-running
// fetch/setup/update isn't silent. It returns a func that stops the
// ticker; calling it is a no-op if ctx wasn't logging at debug level.
func startProgressTicker(ctx context.Context, reporter *progress.Reporter) func() {
	if !logging.IsLogging(ctx, logging.Debug) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				active := reporter.Snapshot()
				if len(active) == 0 {
					continue
				}
				for _, o := range active {
					logging.Debugf(ctx, "in flight: %s (since %s)", o.Name, o.StartedAt.Format(time.RFC3339))
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// pickMain resolves the effective main repository name: -main, then
// cfg.Main, then the lexicographically smallest repository.
func pickMain(f *baseFlags, cfg *mrconfig.Config, r *resolver.Resolver) (string, error) {
	if f.mainRepo != "" {
		return f.mainRepo, nil
	}
	if cfg.Main != "" {
		return cfg.Main, nil
	}
	name, ok := r.DefaultMain()
	if !ok {
		return "", errors.Reason("configuration names no repositories").Fatal().Err()
	}
	return name, nil
}
