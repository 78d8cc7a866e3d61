// Package testutil provides shared testing utilities: a deterministic mock
// embedder, a scripted model, and a PostgreSQL test container with pgvector
// and migrations applied.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output. For
// components taking log.Logger (an alias for *slog.Logger), log.NewNop()
// returns the same thing.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
