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

package errors

import (
	"strings"
	"testing"
)

func TestAnnotateNilPassesThrough(t *testing.T) {
	if got := Annotate(nil, "whatever").Err(); got != nil {
		t.Fatalf("Annotate(nil, ...).Err() = %v, want nil", got)
	}
}

func TestAnnotateWrapsCause(t *testing.T) {
	cause := New("boom")
	err := Annotate(cause, "while doing X").Err()
	if err.Error() != "while doing X: boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !Is(err, cause) {
		t.Fatalf("Is(err, cause) = false")
	}
}

func TestFatalTag(t *testing.T) {
	err := Reason("bad config").Fatal().Err()
	if !IsFatal(err) {
		t.Fatalf("IsFatal(err) = false, want true")
	}
	wrapped := Annotate(err, "outer").Err()
	if !IsFatal(wrapped) {
		t.Fatalf("IsFatal(wrapped) = false, want true (fatality propagates through Unwrap)")
	}

	nonFatal := Reason("retry me").Err()
	if IsFatal(nonFatal) {
		t.Fatalf("IsFatal(nonFatal) = true, want false")
	}
}

func TestInternalReasonAppearsInError(t *testing.T) {
	err := Reason("tree id mismatch").InternalReason("stdout=%q stderr=%q", "out", "err").Err()
	got := err.Error()
	if !strings.Contains(got, "tree id mismatch") {
		t.Fatalf("Error() = %q, want it to contain the reason", got)
	}
	if !strings.Contains(got, `stdout="out" stderr="err"`) {
		t.Fatalf("Error() = %q, want it to contain the internal reason", got)
	}

	cause := New("boom")
	wrapped := Annotate(cause, "while doing X").InternalReason("detail=%d", 42).Err()
	got = wrapped.Error()
	if !strings.Contains(got, "while doing X: boom") || !strings.Contains(got, "detail=42") {
		t.Fatalf("Error() = %q, want both the annotated cause and the internal reason", got)
	}
}

func TestMultiError(t *testing.T) {
	var me MultiError
	if me.AsError() != nil {
		t.Fatalf("empty MultiError.AsError() != nil")
	}

	me = MultiError{nil, New("a"), nil}
	if got := me.AsError(); got.Error() != "a" {
		t.Fatalf("single-error MultiError.AsError() = %q, want %q", got.Error(), "a")
	}

	me = MultiError{New("a"), New("b")}
	if got, ok := me.AsError().(MultiError); !ok || len(got) != len(me) || got[0] != me[0] || got[1] != me[1] {
		t.Fatalf("multi-error MultiError.AsError() did not return itself")
	}
	if got := me.Error(); got == "" {
		t.Fatalf("MultiError.Error() empty")
	}
}

func TestMultiErrorFromErrors(t *testing.T) {
	ch := make(chan error, 3)
	ch <- nil
	ch <- New("x")
	ch <- nil
	close(ch)

	err := MultiErrorFromErrors(ch)
	if err == nil || err.Error() != "x" {
		t.Fatalf("MultiErrorFromErrors = %v, want single error %q", err, "x")
	}
}
