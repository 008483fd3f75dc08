package admission

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Package-level logger instance for the admission engine.
var (
	admissionLogger     *slog.Logger
	admissionLevelVar   = new(slog.LevelVar)
	admissionLoggerOnce sync.Once
)

// getLogger returns the admission logger instance. The debug parameter
// controls the log level on first use.
func getLogger(debug bool) *slog.Logger {
	admissionLoggerOnce.Do(func() {
		if debug {
			admissionLevelVar.Set(slog.LevelDebug)
		} else {
			admissionLevelVar.Set(slog.LevelInfo)
		}

		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: admissionLevelVar,
		})

		admissionLogger = slog.New(handler).With("module", "admission")
	})

	return admissionLogger
}

// SetDebugLevel switches the admission logger between debug and info level.
func SetDebugLevel(debug bool) {
	if debug {
		admissionLevelVar.Set(slog.LevelDebug)
	} else {
		admissionLevelVar.Set(slog.LevelInfo)
	}
}

// discardLogger returns a logger that discards all output.
// Useful for testing.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
