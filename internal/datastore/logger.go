// Package datastore logging: routes GORM's internal logs through slog.
package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gormlogger "gorm.io/gorm/logger"
)

// Package-level logger for datastore operations
var (
	datastoreLogger   *slog.Logger
	datastoreLoggerMu sync.RWMutex
)

// SetLogger installs the logger used for datastore operations.
func SetLogger(logger *slog.Logger) {
	datastoreLoggerMu.Lock()
	defer datastoreLoggerMu.Unlock()
	datastoreLogger = logger
}

// getLogger returns the datastore logger, falling back to the process default.
func getLogger() *slog.Logger {
	datastoreLoggerMu.RLock()
	defer datastoreLoggerMu.RUnlock()
	if datastoreLogger != nil {
		return datastoreLogger
	}
	return slog.Default().With("service", "datastore")
}

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow and logged at warn level.
const DefaultSlowQueryThreshold = 1 * time.Second

// gormSlogAdapter implements gorm.io/gorm/logger.Interface on top of slog.
type gormSlogAdapter struct {
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	return &gormSlogAdapter{
		slowThreshold: DefaultSlowQueryThreshold,
		level:         gormlogger.Warn,
	}
}

func (l *gormSlogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormSlogAdapter) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		getLogger().Info(msg, "args", args)
	}
}

func (l *gormSlogAdapter) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		getLogger().Warn(msg, "args", args)
	}
}

func (l *gormSlogAdapter) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		getLogger().Error(msg, "args", args)
	}
}

func (l *gormSlogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.level >= gormlogger.Error:
		getLogger().Error("query failed", "sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		getLogger().Warn("slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.level >= gormlogger.Info:
		getLogger().Debug("query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
