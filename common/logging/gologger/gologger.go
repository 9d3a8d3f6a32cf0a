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

// Package gologger implements a logging.Logger that writes colorized,
// human-readable lines to an io.Writer (typically os.Stderr), the way
// cmd/mrsetup reports progress and diagnostics to an interactive terminal.
package gologger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.chromium.org/mrsetup/common/logging"
)

const (
	colorReset  = "\x1b[0m"
	colorGray   = "\x1b[90m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
)

// LoggerConfig configures a gologger instance.
type LoggerConfig struct {
	Out      io.Writer
	Level    logging.Level
	Colorize bool
}

type loggerImpl struct {
	cfg LoggerConfig
	mu  sync.Mutex
}

// New creates a new logging.Logger that writes to cfg.Out (defaulting to
// os.Stderr) at cfg.Level or above.
func New(cfg LoggerConfig) logging.Logger {
	if cfg.Out == nil {
		cfg.Out = os.Stderr
	}
	return &loggerImpl{cfg: cfg}
}

// Std returns the default logger: colorized, writing to os.Stderr at
// Info level and above.
func Std() logging.Logger {
	return New(LoggerConfig{Out: os.Stderr, Level: logging.Info, Colorize: true})
}

func (l *loggerImpl) LogCall(level logging.Level, _ int, format string, args []any) {
	if level < l.cfg.Level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	prefix, color := "[I]", colorGray
	switch level {
	case logging.Debug:
		prefix, color = "[D]", colorGray
	case logging.Warning:
		prefix, color = "[W]", colorYellow
	case logging.Error:
		prefix, color = "[E]", colorRed
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.Colorize {
		fmt.Fprintf(l.cfg.Out, "%s%s %s %s%s\n", color, prefix, time.Now().Format("15:04:05.000"), msg, colorReset)
	} else {
		fmt.Fprintf(l.cfg.Out, "%s %s %s\n", prefix, time.Now().Format("15:04:05.000"), msg)
	}
}
