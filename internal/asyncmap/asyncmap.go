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

// Package asyncmap implements the deduplicating async map used by every
// acquisition pipeline in this repository (content-CAS, import-to-git,
// git-tree fetch, critical Git ops): a cache from a comparable key to a
// value, where the value is computed by a user-supplied function that
// runs at most once per key regardless of how many concurrent callers
// request it.
//
// Rather than the continuation-passing ((on_ready, on_error) callback
// pair) a non-GC'd, single-threaded host language would need, each key
// resolves through a one-shot channel: the compute function runs in its
// own goroutine the first time a key is requested, and every caller
// (concurrent or later) waits on the same channel. This is the literal
// reading of "equivalent behavior falls out of one-shot channels per
// key" — callers that are themselves goroutines in a worker pool block
// only their own goroutine, never a shared OS thread.
package asyncmap

import (
	"context"
	"sync"

	"go.chromium.org/mrsetup/common/errors"
)

// Result is the outcome of resolving one key: either a Value, or an Err
// tagged with whether it is Fatal (per spec.md §4.1(iv), a compute
// function may report a non-fatal error for a recoverable condition,
// leaving the key eligible for a later caller to retry).
type Result[V any] struct {
	Value V
	Err   error
	Fatal bool
}

// Compute produces the value for key. ctx is the context of whichever
// caller happened to trigger the computation; it is not tied to any one
// caller's lifetime since the result is shared.
type Compute[K comparable, V any] func(ctx context.Context, key K) Result[V]

type future[V any] struct {
	done   chan struct{}
	result Result[V]
	retry  bool // sole flight left Pending (non-fatal error, not yet Ready/Failed)
}

// Map is a deduplicating async map from K to V. Zero value is not usable;
// construct with New.
type Map[K comparable, V any] struct {
	compute Compute[K, V]

	mu      sync.Mutex
	entries map[K]*future[V]
}

// New creates a Map whose values are produced by compute.
func New[K comparable, V any](compute Compute[K, V]) *Map[K, V] {
	return &Map[K, V]{
		compute: compute,
		entries: make(map[K]*future[V]),
	}
}

// Get resolves key. Concurrent and later callers for the same key share
// one compute invocation and its result, except that a non-fatal,
// retryable error is returned to the callers waiting on it and the entry
// is dropped, so a later Get invokes compute again. If ctx is canceled before the result is available, Get returns
// a fatal Result carrying ctx.Err(); the in-flight computation (if this
// caller started it) is not canceled, since other callers may still be
// waiting on it.
func (m *Map[K, V]) Get(ctx context.Context, key K) Result[V] {
	for {
		f := m.getOrStart(ctx, key)
		select {
		case <-f.done:
			if f.result.Err != nil && !f.result.Fatal && f.retry {
				// Non-fatal: the compute function left this key retryable.
				// Remove the spent entry so the next Get re-invokes compute.
				m.mu.Lock()
				if m.entries[key] == f {
					delete(m.entries, key)
				}
				m.mu.Unlock()
				return f.result
			}
			return f.result
		case <-ctx.Done():
			return Result[V]{Err: ctx.Err(), Fatal: true}
		}
	}
}

func (m *Map[K, V]) getOrStart(ctx context.Context, key K) *future[V] {
	m.mu.Lock()
	if f, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return f
	}
	f := &future[V]{done: make(chan struct{})}
	m.entries[key] = f
	m.mu.Unlock()

	go func() {
		result := m.compute(ctx, key)
		f.result = result
		f.retry = result.Err != nil && !result.Fatal
		close(f.done)
	}()
	return f
}

// GetAll resolves every key in keys concurrently and returns their values
// in the same order, matching the spec's "on_ready(values) runs exactly
// once with the corresponding values in order" contract. If any key
// fails, GetAll returns the first error encountered (in key order) and
// whether it was fatal; fatal errors from other keys do not override an
// earlier non-fatal one's position, but a fatal result anywhere makes the
// overall fatal flag true.
func (m *Map[K, V]) GetAll(ctx context.Context, keys []K) ([]V, error, bool) {
	results := make([]Result[V], len(keys))
	var wg sync.WaitGroup
	wg.Add(len(keys))
	for i, k := range keys {
		i, k := i, k
		go func() {
			defer wg.Done()
			results[i] = m.Get(ctx, k)
		}()
	}
	wg.Wait()

	values := make([]V, len(keys))
	var firstErr error
	fatal := false
	for i, r := range results {
		values[i] = r.Value
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
			}
			fatal = fatal || r.Fatal
		}
	}
	return values, firstErr, fatal
}

// Ancestors is a predecessor-key set threaded through recursive
// resolutions (e.g. the repository dependency resolver's indirection
// chain) to detect cycles: a compute function that recurses into this
// same Map for another key includes its own key in the ancestor set it
// passes down.
type Ancestors[K comparable] map[K]struct{}

// With returns a copy of a extended with key, leaving a unmodified. A nil
// receiver is treated as empty.
func (a Ancestors[K]) With(key K) Ancestors[K] {
	next := make(Ancestors[K], len(a)+1)
	for k := range a {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return next
}

// Has reports whether key is already an ancestor, i.e. resolving it again
// would form a cycle.
func (a Ancestors[K]) Has(key K) bool {
	_, ok := a[key]
	return ok
}

// CycleError formats the fatal error a compute function should return
// when Ancestors.Has reports a cycle.
func CycleError[K comparable](key K) error {
	return errors.Reason("cycle detected: key %v depends on itself", key).Fatal().Err()
}
