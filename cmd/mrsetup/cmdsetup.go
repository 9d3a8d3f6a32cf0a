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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/subcommands"

	"go.chromium.org/mrsetup/cmd/mrsetup/exitcode"
	"go.chromium.org/mrsetup/common/logging"
)

var cmdSetup = &subcommands.Command{
	UsageLine: "setup [-C config.json] [-build-root dir] [-main name]",
	ShortDesc: "materialize every reachable repository and print main's resolved root",
	LongDesc: "setup resolves the repository named by -main (or the config's own " +
		"\"main\" field, or the lexicographically smallest repository) down to its " +
		"binding closure, materializes every archive and generator in that closure " +
		"and its overlay roots, and prints the resolved main repository root as a " +
		"`[\"git tree\", id, repo_path]` / `[\"file\", path]` JSON array, suitable for " +
		"`just --workspace-root $(mrsetup setup ...)`.",
	CommandRun: func() subcommands.CommandRun {
		c := &cmdSetupRun{}
		c.registerBaseFlags()
		return c
	},
}

type cmdSetupRun struct {
	baseFlags
}

func (c *cmdSetupRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := c.setupContext()

	cfg, err := c.loadConfig()
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}
	buildRoot, err := c.resolveBuildRoot()
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}

	e, cleanup, err := c.newEngine(ctx, cfg, buildRoot)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.GenericFailure
	}
	defer cleanup()

	mainName, err := pickMain(&c.baseFlags, cfg, e.resolver)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}
	_, toSetup, err := e.resolver.ReachableRepositories(mainName)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}

	out, err := e.driver.Run(ctx, cfg, mainName, toSetup)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.FetchError
	}

	root := out.Repositories[mainName].Repository
	buf, err := json.Marshal(root)
	if err != nil {
		logging.Errorf(ctx, "encoding resolved root: %s", err)
		return exitcode.GenericFailure
	}
	fmt.Fprintln(os.Stdout, string(buf))
	return exitcode.Success
}

var cmdSetupEnv = &subcommands.Command{
	UsageLine: "setup-env [-C config.json] [-build-root dir] [-main name]",
	ShortDesc: "materialize every reachable repository and print shell exports",
	LongDesc: "setup-env does the same resolution as setup, but writes the full " +
		"rewritten configuration to a file under the build root and prints shell " +
		"`export` lines naming that file and the chosen main repository, for " +
		"`eval $(mrsetup setup-env ...)`.",
	CommandRun: func() subcommands.CommandRun {
		c := &cmdSetupEnvRun{}
		c.registerBaseFlags()
		return c
	},
}

type cmdSetupEnvRun struct {
	baseFlags
}

func (c *cmdSetupEnvRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := c.setupContext()

	cfg, err := c.loadConfig()
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}
	buildRoot, err := c.resolveBuildRoot()
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}

	e, cleanup, err := c.newEngine(ctx, cfg, buildRoot)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.GenericFailure
	}
	defer cleanup()

	mainName, err := pickMain(&c.baseFlags, cfg, e.resolver)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}
	_, toSetup, err := e.resolver.ReachableRepositories(mainName)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.ConfigError
	}

	out, err := e.driver.Run(ctx, cfg, mainName, toSetup)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.FetchError
	}

	configOut := filepath.Join(buildRoot, fmt.Sprintf("setup-env-%d.json", os.Getpid()))
	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logging.Errorf(ctx, "encoding rewritten configuration: %s", err)
		return exitcode.GenericFailure
	}
	if err := os.WriteFile(configOut, buf, 0o644); err != nil {
		logging.Errorf(ctx, "writing rewritten configuration: %s", err)
		return exitcode.GenericFailure
	}

	fmt.Fprintf(os.Stdout, "export MRSETUP_CONFIG=%q\n", configOut)
	fmt.Fprintf(os.Stdout, "export MRSETUP_MAIN=%q\n", mainName)
	return exitcode.Success
}
