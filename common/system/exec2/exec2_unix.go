// Copyright 2019 The LUCI Authors.
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

//go:build !windows

package exec2

import (
	"syscall"

	"go.chromium.org/mrsetup/common/errors"
)

type attr struct {
	exitCode int
}

// setupCmd arranges for the child to start in its own process group, so
// Terminate/Kill can reach a generator command's whole subprocess tree
// (e.g. a shell that forks further children) instead of just the direct
// child.
func (c *Cmd) setupCmd() {
	if c.Cmd.SysProcAttr == nil {
		c.Cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	c.Cmd.SysProcAttr.Setpgid = true
	c.attr.exitCode = -1
}

func (c *Cmd) start() error {
	if err := c.Cmd.Start(); err != nil {
		return errors.Annotate(err, "starting %s", c.Cmd.Path).Err()
	}
	return nil
}

func (c *Cmd) wait() error {
	err := c.Cmd.Wait()
	if c.Cmd.ProcessState != nil {
		c.attr.exitCode = c.Cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return errors.Annotate(err, "waiting for %s", c.Cmd.Path).Err()
	}
	return nil
}

// terminate signals the whole process group with SIGTERM.
func (c *Cmd) terminate() error {
	if c.Cmd.Process == nil {
		return errors.Reason("process not started").Err()
	}
	if err := syscall.Kill(-c.Cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return errors.Annotate(err, "sending SIGTERM to pgid %d", c.Cmd.Process.Pid).Err()
	}
	return nil
}

// kill signals the whole process group with SIGKILL.
func (c *Cmd) kill() error {
	if c.Cmd.Process == nil {
		return errors.Reason("process not started").Err()
	}
	if err := syscall.Kill(-c.Cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return errors.Annotate(err, "sending SIGKILL to pgid %d", c.Cmd.Process.Pid).Err()
	}
	return nil
}

func (c *Cmd) exitCode() int {
	return c.attr.exitCode
}
