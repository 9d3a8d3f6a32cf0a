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

	"github.com/maruel/subcommands"

	"go.chromium.org/mrsetup/cmd/mrsetup/exitcode"
	"go.chromium.org/mrsetup/common/logging"
)

var cmdUpdate = &subcommands.Command{
	UsageLine: "update [-C config.json] [-build-root dir]",
	ShortDesc: "re-materialize every repository in the configuration",
	LongDesc: "update runs the same materialization as setup, but over every " +
		"repository in the configuration rather than just one main's closure, " +
		"and prints the full rewritten configuration to stdout. Use this to " +
		"re-pin every archive and generator a configuration names, independent " +
		"of which repository a later build will actually use as main.",
	CommandRun: func() subcommands.CommandRun {
		c := &cmdUpdateRun{}
		c.registerBaseFlags()
		return c
	},
}

type cmdUpdateRun struct {
	baseFlags
}

func (c *cmdUpdateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
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
	_, toSetup := e.resolver.DefaultReachableRepositories()

	out, err := e.driver.Run(ctx, cfg, mainName, toSetup)
	if err != nil {
		logging.Errorf(ctx, "%s", err)
		return exitcode.FetchError
	}

	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logging.Errorf(ctx, "encoding rewritten configuration: %s", err)
		return exitcode.GenericFailure
	}
	fmt.Fprintln(os.Stdout, string(buf))
	return exitcode.Success
}
