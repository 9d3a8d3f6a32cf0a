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

// Package retry provides retry-iterator primitives used by the
// content-CAS map (internal/cas) when a mirror or fetch URL fails
// transiently.
package retry

import (
	"context"
	"time"
)

// Stop is returned by an Iterator to indicate no further retries.
const Stop time.Duration = -1

// Iterator computes the delay before the next retry, given the error the
// previous attempt failed with. Returning Stop ends the retry loop.
type Iterator interface {
	Next(ctx context.Context, err error) time.Duration
}

// Factory builds a new Iterator instance; retry loops call this once per
// top-level operation so iterator state (e.g. accumulated delay) does not
// leak across unrelated calls.
type Factory func(context.Context) Iterator

// Limited retries a fixed number of times with a fixed delay between
// attempts.
type Limited struct {
	Delay   time.Duration
	Retries int
}

// Next implements Iterator.
func (l *Limited) Next(context.Context, error) time.Duration {
	if l.Retries <= 0 {
		return Stop
	}
	l.Retries--
	return l.Delay
}

// ExponentialBackoff retries with a delay that grows by Multiplier after
// each attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	Limited
	MaxDelay   time.Duration
	Multiplier float64
}

// Next implements Iterator.
func (e *ExponentialBackoff) Next(ctx context.Context, err error) time.Duration {
	d := e.Limited.Next(ctx, err)
	if d == Stop {
		return Stop
	}
	next := e.Delay
	if e.Multiplier > 1 {
		next = time.Duration(float64(e.Delay) * e.Multiplier)
	}
	if e.MaxDelay > 0 && next > e.MaxDelay {
		next = e.MaxDelay
	}
	e.Delay = next
	return d
}

// defaultTemplate is the parameterization used by Default.
var defaultTemplate = ExponentialBackoff{
	Limited: Limited{
		Delay:   200 * time.Millisecond,
		Retries: 5,
	},
	MaxDelay:   10 * time.Second,
	Multiplier: 2,
}

// Default is a Factory returning a fresh copy of the repository's default
// retry parameterization: up to 5 retries after the first attempt,
// starting at 200ms and doubling up to a 10s cap.
func Default(context.Context) Iterator {
	cp := defaultTemplate
	return &cp
}

// Retry calls fn until it succeeds, fn returns a non-transient error (per
// isTransient), or iter is exhausted. It sleeps between attempts according
// to iter, respecting ctx cancellation.
func Retry(ctx context.Context, iter Iterator, isTransient func(error) bool, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient != nil && !isTransient(err) {
			return err
		}
		d := iter.Next(ctx, err)
		if d == Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}
