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

package tasks

import (
	"context"
	"sync/atomic"
	"testing"

	"go.chromium.org/mrsetup/common/errors"
)

func TestRunDrainsInitialBatch(t *testing.T) {
	var n int64
	err := Run(context.Background(), 4, func(p *Pool) {
		for i := 0; i < 20; i++ {
			p.Go(func(ctx context.Context) error {
				atomic.AddInt64(&n, 1)
				return nil
			})
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 20 {
		t.Fatalf("ran %d jobs, want 20", n)
	}
}

func TestRunDrainsTransitiveJobs(t *testing.T) {
	var n int64
	err := Run(context.Background(), 2, func(p *Pool) {
		var chain func(context.Context) error
		depth := 0
		chain = func(ctx context.Context) error {
			atomic.AddInt64(&n, 1)
			depth++
			if depth < 5 {
				p.Go(chain)
			}
			return nil
		}
		p.Go(chain)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 5 {
		t.Fatalf("ran %d jobs, want 5", n)
	}
}

func TestRunSetsFailOnFatalError(t *testing.T) {
	var pool *Pool
	err := Run(context.Background(), 2, func(p *Pool) {
		pool = p
		p.Go(func(ctx context.Context) error {
			return errors.Reason("boom").Fatal().Err()
		})
	})
	if err == nil {
		t.Fatalf("Run: expected error")
	}
	if !pool.Failed() {
		t.Fatalf("pool.Failed() = false, want true after fatal job error")
	}
}
