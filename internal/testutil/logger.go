package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops everything, for components
// whose logging would only add noise to test output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
