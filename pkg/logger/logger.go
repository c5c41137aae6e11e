// Package logger installs the process-wide slog handler.
package logger

import (
	"log/slog"
	"os"
)

// Setup builds the handler for the given environment, installs it as the
// slog default and returns it. Production writes JSON to stdout so the log
// shipper can ingest it; every other environment writes human-readable text.
// An explicit level overrides the per-environment default (info in
// production, debug elsewhere).
func Setup(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: resolveLevel(env, level),
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func resolveLevel(env, level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if env == "production" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
