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

// mrsetup is the fetch/setup engine's command-line driver: it resolves a
// repository configuration's dependency closure and materializes every
// archive, generator, and file root it names into a local content-CAS
// and Git object store, per SPEC_FULL.md.
package main

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/maruel/subcommands"

	"go.chromium.org/mrsetup/cmd/mrsetup/exitcode"
	"go.chromium.org/mrsetup/common/logging"
	"go.chromium.org/mrsetup/common/logging/gologger"
)

var application = &subcommands.DefaultApplication{
	Name:  "mrsetup",
	Title: "Multi-repository fetch/setup engine",
	// Keep in alphabetical order of their name.
	Commands: []*subcommands.Command{
		subcommands.CmdHelp,
		cmdFetch,
		cmdSetup,
		cmdSetupEnv,
		cmdUpdate,
	},
}

func main() {
	os.Exit(run())
}

// run wraps subcommands.Run with a panic recovery net: a subcommand bug
// should produce a logged stack trace and a clean non-zero exit, not a
// raw runtime panic dump on the user's terminal.
func run() (exitCode int) {
	ctx := logging.Use(context.Background(), gologger.Std())
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithStackTrace(ctx, debug.Stack(), "panic: %v", r)
			exitCode = exitcode.GenericFailure
		}
	}()
	return subcommands.Run(application, os.Args[1:])
}
