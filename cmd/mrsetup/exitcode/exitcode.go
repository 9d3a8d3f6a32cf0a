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

// Package exitcode mirrors original_source's just_mr/exit_codes.hpp: a
// small, stable set of process exit codes a wrapping script can branch
// on, rather than a single generic "nonzero means failure" signal.
package exitcode

const (
	// Success is returned when the requested operation completed.
	Success = 0
	// GenericFailure covers anything not classified below.
	GenericFailure = 1
	// UnknownCommand is returned for an unrecognized subcommand name.
	UnknownCommand = 2
	// ClargsError is returned for a bad flag or argument combination.
	ClargsError = 64
	// ConfigError is returned when the repository configuration or
	// run-control file is missing, malformed, or internally inconsistent
	// (e.g. an undefined binding target).
	ConfigError = 65
	// FetchError is returned when resolving an archive, running a
	// generator, or importing its output fails.
	FetchError = 66
)
