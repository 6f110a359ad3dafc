// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// logging.go wires the runtime's diagnostics to logiface, the structured
// logging facade shared across the upstream monorepo, backed by default with
// stumpy (its JSON event implementation). See
// joeycumines-go-utilpkg/sql/export for the same consumption pattern this
// package follows: hold a *logiface.Logger[E] field, call .Level().Log(msg).
package simrt

import (
	"os"

	"github.com/joeycumines/logiface"

	stumpy "github.com/joeycumines/go-utilpkg/logiface-stumpy"
)

// Logger is the structured logger type threaded through a Runtime, fixed to
// stumpy's Event implementation.
type Logger = logiface.Logger[*stumpy.Event]

// newDefaultLogger builds the default stumpy-backed logger, writing
// newline-delimited JSON to stderr at LevelInformational.
func newDefaultLogger() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(logiface.LevelInformational),
	)
}

// logSeedField is the structured field name carrying the runtime's seed on
// diagnostic log lines, so a failing run's seed is always recoverable from
// its own logs (spec.md §7).
const logSeedField = "seed"

// logFatalInvariant logs a fatal invariant violation at Emergency level, with
// the seed attached, before the caller panics with FatalInvariantError.
func logFatalInvariant(logger *Logger, seed uint64, message string, cause error) {
	b := logger.Emerg()
	if !b.Enabled() {
		return
	}
	b = b.Uint64(logSeedField, seed)
	if cause != nil {
		b = b.Err(cause)
	}
	b.Log(message)
}
