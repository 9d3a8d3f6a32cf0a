// Copyright 2015 The LUCI Authors.
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

// Package parallel implements a small fixed-width worker pool used to run
// the continuation-passing pipelines produced by the async maps in
// internal/asyncmap. No component in this repository blocks a worker on
// another component's completion; instead, an operation that depends on
// a sub-result re-enqueues a continuation onto this same pool.
package parallel

import (
	"sync"

	"go.chromium.org/mrsetup/common/errors"
)

// WorkPool creates a fixed-size pool of worker goroutines. A supplied
// generator function creates task functions and passes them through to the
// pool.
//
// WorkPool uses at most workers goroutines to execute the supplied tasks.
// If workers <= 0, WorkPool is unbounded and behaves like FanOutIn.
//
// WorkPool blocks until the generator completes and every task has
// finished, then returns an errors.MultiError if one or more tasks failed,
// or nil otherwise.
func WorkPool(workers int, gen func(chan<- func() error)) error {
	tasks := make(chan func() error)
	go func() {
		defer close(tasks)
		gen(tasks)
	}()

	n := workers
	unbounded := n <= 0

	results := make(chan error)
	var wg sync.WaitGroup

	go func() {
		var sem chan struct{}
		if !unbounded {
			sem = make(chan struct{}, n)
		}
		for t := range tasks {
			if sem != nil {
				sem <- struct{}{}
			}
			wg.Add(1)
			go func(t func() error) {
				defer wg.Done()
				if sem != nil {
					defer func() { <-sem }()
				}
				results <- t()
			}(t)
		}
		wg.Wait()
		close(results)
	}()

	var me errors.MultiError
	for e := range results {
		if e != nil {
			me = append(me, e)
		}
	}
	return me.AsError()
}

// FanOutIn is useful to quickly parallelize a group of tasks with no bound
// on concurrency.
//
// You pass it a function which is expected to push simple func() error
// closures into the provided channel. Each function runs in parallel and
// their error results are collated.
//
// The function blocks until all functions have executed. It returns an
// errors.MultiError if one or more of the fan-out tasks failed, otherwise
// nil.
//
// FanOutIn is equivalent to WorkPool(0, gen).
func FanOutIn(gen func(chan<- func() error)) error {
	return WorkPool(0, gen)
}
