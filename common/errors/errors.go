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

// Package errors supplements the standard "errors" package with annotated
// errors carrying a fatality tag, plus a MultiError for fan-out results.
//
// The fatality tag is how every async-map error continuation in this
// repository decides whether to set the process-wide fail flag or merely
// log a warning and let the key stay retryable.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Unwrap is a re-export of the standard library's errors.Unwrap, so callers
// need only import this package.
func Unwrap(err error) error { return errors.Unwrap(err) }

// Is is a re-export of the standard library's errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a re-export of the standard library's errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// New is a re-export of the standard library's errors.New.
func New(text string) error { return errors.New(text) }

// annotated is an error carrying a reason, an optional internal reason
// (extra diagnostic detail such as captured subprocess output, appended
// to Error()'s output in parens so it still reaches a plain %s-formatted
// log line), a fatality flag, and an optional wrapped cause.
type annotated struct {
	reason   string
	internal string
	fatal    bool
	cause    error
}

func (a *annotated) Error() string {
	var msg string
	switch {
	case a.reason == "" && a.cause == nil:
		msg = ""
	case a.reason == "" && a.cause != nil:
		msg = a.cause.Error()
	case a.cause == nil:
		msg = a.reason
	default:
		msg = fmt.Sprintf("%s: %s", a.reason, a.cause.Error())
	}
	if a.internal == "" {
		return msg
	}
	if msg == "" {
		return a.internal
	}
	return fmt.Sprintf("%s (%s)", msg, a.internal)
}

func (a *annotated) Unwrap() error { return a.cause }

// Annotator builds an annotated error. Obtain one via Reason or Annotate.
type Annotator struct {
	a *annotated
}

// Reason starts a new error (no wrapped cause) with a formatted reason.
func Reason(format string, args ...any) *Annotator {
	return &Annotator{&annotated{reason: fmt.Sprintf(format, args...)}}
}

// Annotate wraps err with a formatted reason. If err is nil, the returned
// Annotator's Err method returns nil.
func Annotate(err error, format string, args ...any) *Annotator {
	if err == nil {
		return nil
	}
	return &Annotator{&annotated{reason: fmt.Sprintf(format, args...), cause: err}}
}

// InternalReason attaches extra diagnostic text (e.g. captured subprocess
// stdout/stderr) that Error() appends after the reason/cause, so it still
// reaches a log line that formats the error with a plain %s. Returns the
// same Annotator for chaining.
func (a *Annotator) InternalReason(format string, args ...any) *Annotator {
	if a == nil {
		return nil
	}
	a.a.internal = fmt.Sprintf(format, args...)
	return a
}

// Fatal marks the error as fatal (see IsFatal). Returns the same Annotator.
func (a *Annotator) Fatal() *Annotator {
	if a == nil {
		return nil
	}
	a.a.fatal = true
	return a
}

// Err returns the built error, or nil if the Annotator itself is nil (which
// happens when Annotate was called with a nil err).
func (a *Annotator) Err() error {
	if a == nil {
		return nil
	}
	return a.a
}

// IsFatal reports whether err (or any error it wraps) was tagged Fatal.
func IsFatal(err error) bool {
	for err != nil {
		if a, ok := err.(*annotated); ok && a.fatal {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Walk calls cb on err and each error it wraps (via Unwrap), stopping as
// soon as cb returns false.
func Walk(err error, cb func(error) bool) {
	for err != nil {
		if !cb(err) {
			return
		}
		err = errors.Unwrap(err)
	}
}

// MultiError is a list of errors, satisfying the error interface. nil
// entries are permitted and ignored by Error()/First().
type MultiError []error

func (m MultiError) Error() string {
	switch n := m.numNonNil(); n {
	case 0:
		return "no error"
	case 1:
		for _, e := range m {
			if e != nil {
				return e.Error()
			}
		}
	}
	msgs := make([]string, 0, len(m))
	for _, e := range m {
		if e != nil {
			msgs = append(msgs, e.Error())
		}
	}
	return fmt.Sprintf("%d errors: %s", len(msgs), strings.Join(msgs, "; "))
}

func (m MultiError) numNonNil() int {
	n := 0
	for _, e := range m {
		if e != nil {
			n++
		}
	}
	return n
}

// First returns the first non-nil error, or nil if there is none.
func (m MultiError) First() error {
	for _, e := range m {
		if e != nil {
			return e
		}
	}
	return nil
}

// AsError returns nil if every entry is nil, m itself if more than one
// entry is non-nil, or the sole non-nil entry otherwise.
func (m MultiError) AsError() error {
	switch m.numNonNil() {
	case 0:
		return nil
	case 1:
		return m.First()
	default:
		return m
	}
}

// MultiErrorFromErrors collects every error received on ch into a
// MultiError, returning nil if the channel produced no non-nil errors.
func MultiErrorFromErrors(ch <-chan error) error {
	var me MultiError
	for e := range ch {
		if e != nil {
			me = append(me, e)
		}
	}
	return me.AsError()
}
