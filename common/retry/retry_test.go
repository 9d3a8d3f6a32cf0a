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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsEventually(t *testing.T) {
	iter := &Limited{Delay: time.Millisecond, Retries: 3}
	attempts := 0
	err := Retry(context.Background(), iter, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhausts(t *testing.T) {
	iter := &Limited{Delay: time.Millisecond, Retries: 2}
	attempts := 0
	err := Retry(context.Background(), iter, nil, func() error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("Retry returned nil, want error")
	}
	if attempts != 3 { // initial + 2 retries
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnNonTransient(t *testing.T) {
	iter := &Limited{Delay: time.Millisecond, Retries: 5}
	attempts := 0
	err := Retry(context.Background(), iter, func(error) bool { return false }, func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("attempts = %d, err = %v; want 1 attempt and non-nil error", attempts, err)
	}
}
