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

// Package tasks provides the fixed-width worker pool region every
// mrsetup driver runs its fetch/setup pipeline inside. It is a thin,
// scope-oriented wrapper over common/parallel.WorkPool: entering Run
// starts the pool, submitted jobs run with bounded concurrency, and
// returning from Run's callback drains to quiescence before Run itself
// returns. There is no support for nesting one Pool inside another scope
// region — the async maps in internal/asyncmap are what let a job depend
// on another job's result without needing a second pool.
package tasks

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.chromium.org/mrsetup/common/errors"
	"go.chromium.org/mrsetup/common/parallel"
)

// Pool is a scoped region of a fixed-width worker pool, live only for the
// duration of the Run call that created it.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	jobs  []func(context.Context) error
	fail  int32 // atomic: set to 1 once a fatal error is observed
}

// Go submits a job to the pool. Jobs submitted after Run's generator
// function has begun draining are still honored as long as they are
// submitted from within another job already running in this Pool — that
// is how a continuation re-enqueues follow-up work (e.g. an async map's
// compute function spawning the next stage of a state machine).
func (p *Pool) Go(job func(context.Context) error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
}

// Failed reports whether any job submitted to this Pool has returned a
// fatal error, per common/errors.IsFatal. The driver checks this at scope
// exit to choose an exit code; a job mid-flight may also check it to
// short-circuit work that is no longer useful, though this is advisory
// only — there is no preemption.
func (p *Pool) Failed() bool {
	return atomic.LoadInt32(&p.fail) != 0
}

// Context is the context jobs run under; canceled when Run's region
// exits.
func (p *Pool) Context() context.Context { return p.ctx }

// Run opens a scoped pool region of the given width (0 or negative means
// "number of CPUs"), invokes setup to submit the initial batch of jobs,
// then drains: every job, and every job a job's Go call submits
// transitively, runs to completion (subject to workers concurrency)
// before Run returns. Run returns a MultiError of every non-nil job
// error, or nil if every job succeeded.
func Run(ctx context.Context, workers int, setup func(*Pool)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &Pool{ctx: runCtx, cancel: cancel}
	setup(p)

	var me errors.MultiError
	var meMu sync.Mutex

	// Jobs may submit further jobs via p.Go while running, so draining is
	// itself a fixed-point loop: keep running WorkPool over whatever batch
	// is currently queued until a pass adds nothing new.
	for {
		p.mu.Lock()
		batch := p.jobs
		p.jobs = nil
		p.mu.Unlock()

		if len(batch) == 0 {
			break
		}

		err := parallel.WorkPool(workers, func(ch chan<- func() error) {
			for _, j := range batch {
				j := j
				ch <- func() error {
					err := j(p.ctx)
					if err != nil {
						if errors.IsFatal(err) {
							atomic.StoreInt32(&p.fail, 1)
						}
						meMu.Lock()
						me = append(me, err)
						meMu.Unlock()
					}
					return err
				}
			}
		})
		_ = err // already folded into me above; WorkPool's own MultiError is redundant here.
	}

	return me.AsError()
}
