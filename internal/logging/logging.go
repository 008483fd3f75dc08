// Package logging configures the application's structured loggers.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger

// Init initializes the logging system with a structured JSON logger on stdout
// and installs it as the process default.
func Init(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	structuredLogger = slog.New(handler)
	slog.SetDefault(structuredLogger)
}

// SetGlobal replaces the structured logger and installs it as the process
// default. Used when log output is routed to a rotating file.
func SetGlobal(logger *slog.Logger) {
	structuredLogger = logger
	slog.SetDefault(logger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// It uses the global structured logger as the base.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// NewFileLogger creates a slog.Logger that writes JSON logs to the given file
// path using lumberjack for size-based rotation. It includes a 'service'
// attribute in all logs and returns the logger plus a function that closes the
// underlying log writer.
func NewFileLogger(filePath, serviceName string, level slog.Leveler) (*slog.Logger, func() error, error) {
	// lumberjack doesn't create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(fileHandler).With("service", serviceName)

	closeFunc := func() error {
		return logWriter.Close()
	}

	return logger, closeFunc, nil
}
