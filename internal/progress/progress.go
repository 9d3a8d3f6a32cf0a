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

// Package progress tracks in-flight origins (human-readable tree-request
// labels) across a single driver run. Per spec.md §4.6, a miss in the
// git-tree fetch map emits exactly one Start(origin) on entry and exactly
// one matching Stop(origin) on the success path; a failure emits no Stop.
// Reporter has no persistence — its lifecycle is tied to one driver scope
// region, matching the original tool's process-global progress/statistics
// singletons, modeled here as a plain value instead.
package progress

import (
	"sort"
	"sync"
	"time"
)

// Origin is a snapshot of one in-flight tree request.
type Origin struct {
	Name      string
	StartedAt time.Time
}

// Reporter tracks the set of currently in-flight origins.
type Reporter struct {
	mu      sync.Mutex
	active  map[string]time.Time
	started int64
	stopped int64
}

// New creates an empty Reporter.
func New() *Reporter {
	return &Reporter{active: make(map[string]time.Time)}
}

// Start records that origin has begun fetching. Calling Start twice for
// the same origin without an intervening Stop is a caller bug (the
// git-tree fetch map's async-map dedup should make this unreachable in
// practice) — the second call simply resets the start time.
func (r *Reporter) Start(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[origin] = time.Now()
	r.started++
}

// Stop records that origin has finished successfully. Stopping an origin
// that was never started, or already stopped, is a no-op.
func (r *Reporter) Stop(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[origin]; !ok {
		return
	}
	delete(r.active, origin)
	r.stopped++
}

// Snapshot returns the currently in-flight origins, sorted by name for
// stable, deterministic output (e.g. cmd/mrsetup's -v progress line).
func (r *Reporter) Snapshot() []Origin {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Origin, 0, len(r.active))
	for name, t := range r.active {
		out = append(out, Origin{Name: name, StartedAt: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Counts returns the total number of Start and Stop calls observed so
// far, for a final one-line summary ("N fetched, M in flight").
func (r *Reporter) Counts() (started, stopped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.stopped
}
