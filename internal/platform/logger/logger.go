package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON on stdout so log shippers need no
// parsing config; level is Info unless VERICRED_LOG_LEVEL=debug.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("VERICRED_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
