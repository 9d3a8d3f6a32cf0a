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

package parallel

import (
	"sync/atomic"
	"testing"

	"go.chromium.org/mrsetup/common/errors"
)

func TestFanOutInSuccess(t *testing.T) {
	var n int64
	err := FanOutIn(func(ch chan<- func() error) {
		for i := 0; i < 50; i++ {
			ch <- func() error {
				atomic.AddInt64(&n, 1)
				return nil
			}
		}
	})
	if err != nil {
		t.Fatalf("FanOutIn: %v", err)
	}
	if n != 50 {
		t.Fatalf("ran %d tasks, want 50", n)
	}
}

func TestWorkPoolCollectsErrors(t *testing.T) {
	err := WorkPool(4, func(ch chan<- func() error) {
		for i := 0; i < 10; i++ {
			i := i
			ch <- func() error {
				if i%3 == 0 {
					return errors.Reason("task %d failed", i).Err()
				}
				return nil
			}
		}
	})
	if err == nil {
		t.Fatalf("WorkPool returned nil, want a MultiError")
	}
	me, ok := err.(errors.MultiError)
	if !ok {
		t.Fatalf("err is %T, want errors.MultiError", err)
	}
	if len(me) != 4 { // i = 0, 3, 6, 9
		t.Fatalf("got %d errors, want 4: %v", len(me), me)
	}
}

func TestWorkPoolBoundsConcurrency(t *testing.T) {
	var cur, max int64
	err := WorkPool(3, func(ch chan<- func() error) {
		for i := 0; i < 30; i++ {
			ch <- func() error {
				c := atomic.AddInt64(&cur, 1)
				for {
					m := atomic.LoadInt64(&max)
					if c <= m || atomic.CompareAndSwapInt64(&max, m, c) {
						break
					}
				}
				atomic.AddInt64(&cur, -1)
				return nil
			}
		}
	})
	if err != nil {
		t.Fatalf("WorkPool: %v", err)
	}
	if max > 3 {
		t.Fatalf("observed concurrency %d, want <= 3", max)
	}
}
