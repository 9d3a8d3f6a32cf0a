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

// Package logging is a minimal context-carried structured logging facade.
//
// Callers use the package-level Debugf/Infof/Warningf/Errorf functions
// (in exported.go), which route through whatever Logger is installed in
// the context via Use. If no Logger has been installed, a no-op logger
// is used, so libraries may log unconditionally without requiring their
// caller to configure anything.
package logging

import "context"

// Level is a logging severity.
type Level int

// The four severities every Logger implementation must accept.
const (
	Debug Level = iota
	Info
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorKey is the Fields key conventionally used to carry an error value.
const ErrorKey = "error"

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Logger is the interface a logging backend must implement.
type Logger interface {
	// LogCall logs a message at level l. calldepth is the number of extra
	// stack frames between the caller that wants attribution and this
	// method, mirroring log.Output's calldepth parameter.
	LogCall(l Level, calldepth int, format string, args []any)
}

// StackTrace is a captured stack, in the format produced by
// runtime/debug.Stack.
type StackTrace []byte

// LogContext is the logging state threaded through a context.Context.
type LogContext struct {
	Logger     Logger
	Level      Level
	Fields     Fields
	StackTrace StackTrace
}

type ctxKey struct{}

func modifyCtx(ctx context.Context, mutate func(*LogContext)) context.Context {
	cur, _ := ctx.Value(ctxKey{}).(*LogContext)
	next := &LogContext{}
	if cur != nil {
		*next = *cur
	}
	mutate(next)
	return context.WithValue(ctx, ctxKey{}, next)
}

// Use installs l as the Logger for ctx.
func Use(ctx context.Context, l Logger) context.Context {
	return modifyCtx(ctx, func(lc *LogContext) { lc.Logger = l })
}

// SetLevel sets the minimum level that will be logged through ctx.
func SetLevel(ctx context.Context, l Level) context.Context {
	return modifyCtx(ctx, func(lc *LogContext) { lc.Level = l })
}

// SetField attaches a single structured field to ctx, returning a derived
// context. Existing fields are preserved and overridden by key collision.
func SetField(ctx context.Context, key string, value any) context.Context {
	return SetFields(ctx, Fields{key: value})
}

// SetFields attaches fields to ctx the way Fields.Errorf etc. do, without
// immediately logging anything.
func SetFields(ctx context.Context, f Fields) context.Context {
	return modifyCtx(ctx, func(lc *LogContext) {
		merged := make(Fields, len(lc.Fields)+len(f))
		for k, v := range lc.Fields {
			merged[k] = v
		}
		for k, v := range f {
			merged[k] = v
		}
		lc.Fields = merged
	})
}

type nullLogger struct{}

func (nullLogger) LogCall(Level, int, string, []any) {}

// Get returns the Logger installed in ctx, or a no-op Logger if none was
// installed.
func Get(ctx context.Context) Logger {
	if lc, ok := ctx.Value(ctxKey{}).(*LogContext); ok && lc.Logger != nil {
		return lc.Logger
	}
	return nullLogger{}
}

// GetLevel returns the minimum level configured on ctx. It returns Info
// when ctx carries no logging state at all; a context that carries
// logging state without a SetLevel call reports the zero Level (Debug).
func GetLevel(ctx context.Context) Level {
	if lc, ok := ctx.Value(ctxKey{}).(*LogContext); ok {
		return lc.Level
	}
	return Info
}

// GetFields returns the structured fields accumulated on ctx.
func GetFields(ctx context.Context) Fields {
	if lc, ok := ctx.Value(ctxKey{}).(*LogContext); ok {
		return lc.Fields
	}
	return nil
}

// GetStackTrace returns the stack trace attached to ctx, if any.
func GetStackTrace(ctx context.Context) StackTrace {
	if lc, ok := ctx.Value(ctxKey{}).(*LogContext); ok {
		return lc.StackTrace
	}
	return nil
}

// Errorf logs a message at Error level with these fields attached.
func (f Fields) Errorf(ctx context.Context, format string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Error, 1, format, args)
}

// Warningf logs a message at Warning level with these fields attached.
func (f Fields) Warningf(ctx context.Context, format string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Warning, 1, format, args)
}

// Infof logs a message at Info level with these fields attached.
func (f Fields) Infof(ctx context.Context, format string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Info, 1, format, args)
}

// WithError is shorthand for Fields{ErrorKey: err}.
func WithError(err error) Fields {
	return Fields{ErrorKey: err}
}
