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
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/mrsetup/cmd/mrsetup/exitcode"
	"go.chromium.org/mrsetup/common/logging"
)

var cmdFetch = &subcommands.Command{
	UsageLine: "fetch [-C config.json] [-build-root dir] [-main name]",
	ShortDesc: "populate the local content-CAS and Git stores for main's closure",
	LongDesc: "fetch materializes every repository reachable from -main (its " +
		"binding closure plus overlay roots) without writing a rewritten " +
		"configuration, so a later setup/setup-env call hits warm caches.",
	CommandRun: func() subcommands.CommandRun {
		c := &cmdFetchRun{}
		c.registerBaseFlags()
		return c
	},
}

type cmdFetchRun struct {
	baseFlags
}

func (c *cmdFetchRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
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

	if _, err := e.driver.Run(ctx, cfg, mainName, toSetup); err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.FetchError
	}

	started, stopped := e.reporter.Counts()
	fmt.Fprintf(os.Stderr, "fetched %d repositories (%d started, %d completed)\n", len(toSetup), started, stopped)
	return exitcode.Success
}
