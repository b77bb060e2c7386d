package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

const slowQueryThreshold = 500 * time.Millisecond

// GormLogger forwards gorm diagnostics to zap. Queries are logged at debug level, slow queries
// and failures at warn/error. Record-not-found is not treated as a failure.
type GormLogger struct {
	base  *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

// NewGormLogger returns a gorm logger backed by logger.
func NewGormLogger(logger *zap.Logger) *GormLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormLogger{
		base:  logger.Named("gorm"),
		level: gormlogger.Warn,
		slow:  slowQueryThreshold,
	}
}

// LogMode implements gormlogger.Interface.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

// Info implements gormlogger.Interface.
func (l *GormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.logger(ctx).Info(fmt.Sprintf(msg, args...))
	}
}

// Warn implements gormlogger.Interface.
func (l *GormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.logger(ctx).Warn(fmt.Sprintf(msg, args...))
	}
}

// Error implements gormlogger.Interface.
func (l *GormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.logger(ctx).Error(fmt.Sprintf(msg, args...))
	}
}

// Trace implements gormlogger.Interface.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		query, rows := fc()
		l.logger(ctx).Error("gorm query failed",
			zap.String("sql", query),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		query, rows := fc()
		l.logger(ctx).Warn("gorm slow query",
			zap.String("sql", query),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
		)
	case l.level >= gormlogger.Info:
		query, rows := fc()
		l.logger(ctx).Debug("gorm query",
			zap.String("sql", query),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// logger prefers the request-scoped logger so queries carry request ids.
func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
		return scoped.Named("gorm")
	}
	return l.base
}
