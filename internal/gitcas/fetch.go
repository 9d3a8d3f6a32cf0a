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

package gitcas

import (
	"bytes"
	"context"
	"time"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/common/logging"
	"go.chromium.org/mrsetup/common/system/exec2"
)

// defaultFetchTimeout bounds a single git subprocess invocation. The
// generator command itself (a separate subprocess, see internal/gittree)
// is not subject to this; it is launched directly, not through Launcher.
const defaultFetchTimeout = 30 * time.Minute

// Launcher runs the external git binary, optionally wrapped by a
// configured launcher prefix (e.g. a sandboxing wrapper some deployments
// require before any subprocess, including git itself).
type Launcher struct {
	GitBin string   // defaults to "git"
	Prefix []string // prepended to the argv, e.g. ["env", "-i"]
}

func (l Launcher) bin() string {
	if l.GitBin == "" {
		return "git"
	}
	return l.GitBin
}

func (l Launcher) run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error) {
	argv := append([]string{}, l.Prefix...)
	argv = append(argv, l.bin(), "-C", dir)
	argv = append(argv, args...)

	cmd := exec2.CommandContext(ctx, argv[0], argv[1:]...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return "", "", errors.Annotate(err, "starting %v", argv).Err()
	}
	if err := cmd.Wait(defaultFetchTimeout); err != nil {
		if err == exec2.ErrTimeout {
			cmd.Kill() // best-effort; a hung git process must not outlive the timeout
		}
		return outBuf.String(), errBuf.String(), errors.Annotate(err, "running %v", argv).
			InternalReason("stdout=%q stderr=%q", outBuf.String(), errBuf.String()).Err()
	}
	return outBuf.String(), errBuf.String(), nil
}

// FetchViaTmpRepo acquires srcPath's objects reachable from refspec into
// the shared store h, via a temporary working repository at tmpPath, and
// without importing any of srcPath's refs into h. tmpPath must already
// exist as an empty directory; it is initialized as a repository (but not
// removed) by this call — callers own its lifetime via internal/tempdir.
func (h *Handle) FetchViaTmpRepo(ctx context.Context, tmpPath, srcPath, refspec string, l Launcher, logger logging.Logger) (bool, error) {
	if refspec == "" {
		refspec = "HEAD"
	}

	if _, stderr, err := l.run(ctx, tmpPath, "init", "--quiet"); err != nil {
		return false, errors.Annotate(err, "git init %q", tmpPath).InternalReason("stderr=%q", stderr).Err()
	}
	if _, stderr, err := l.run(ctx, tmpPath, "fetch", "--quiet", "--no-tags", srcPath, refspec); err != nil {
		return false, errors.Annotate(err, "fetching %q from %q", refspec, srcPath).InternalReason("stderr=%q", stderr).Err()
	}
	if logger != nil {
		logger.LogCall(logging.Info, 1, "fetched %s from %s into tmp repo %s", []any{refspec, srcPath, tmpPath})
	}
	if _, stderr, err := l.run(ctx, h.path, "fetch", "--quiet", "--no-tags", tmpPath, "FETCH_HEAD"); err != nil {
		return false, errors.Annotate(err, "importing fetched objects into shared store").InternalReason("stderr=%q", stderr).Err()
	}
	return true, nil
}
