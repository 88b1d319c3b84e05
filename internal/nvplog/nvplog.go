// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package nvplog is a thin leveled-logging shim over zerolog, mirroring the
// three-level console logging (normal/error/debug) that the original tool's
// log_printf routed to stdout/stderr, with debug output gated by an
// environment variable instead of a compile-time #ifdef.
package nvplog

import (
	"os"

	"github.com/rs/zerolog"
)

var (
	stdoutLog zerolog.Logger
	stderrLog zerolog.Logger
	debugOn   bool
)

func init() {
	stdoutLog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true, PartsOrder: []string{zerolog.MessageFieldName}})
	stderrLog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true, PartsOrder: []string{zerolog.MessageFieldName}})
	debugOn = os.Getenv("NVPARM_DEBUG") != ""
}

// Normal prints an informational message to stdout.
func Normal(format string, args ...interface{}) {
	stdoutLog.Log().Msgf(format, args...)
}

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) {
	stderrLog.Log().Msgf(format, args...)
}

// Debug prints a debug message to stdout, only when NVPARM_DEBUG is set.
func Debug(format string, args ...interface{}) {
	if !debugOn {
		return
	}
	stdoutLog.Log().Msgf(format, args...)
}
