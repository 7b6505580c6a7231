package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// queryLogger forwards GORM traces to the service logger so slow order and
// ledger queries carry the same request and order fields as the caller.
type queryLogger struct {
	logg      *logger.Logger
	level     gormlogger.LogLevel
	threshold time.Duration
}

func newQueryLogger(logg *logger.Logger, verbose bool) gormlogger.Interface {
	level := gormlogger.Silent
	if verbose && logg != nil {
		level = gormlogger.Warn
	}
	return &queryLogger{logg: logg, level: level, threshold: slowQueryThreshold}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	if l.logg != nil {
		clone.level = level
	}
	return &clone
}

func (l *queryLogger) Info(ctx context.Context, msg string, _ ...any) {
	if l.level >= gormlogger.Info {
		l.logg.Info(ctx, msg)
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, _ ...any) {
	if l.level >= gormlogger.Warn {
		l.logg.Warn(ctx, msg)
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, _ ...any) {
	if l.level >= gormlogger.Error {
		l.logg.Error(ctx, msg, errors.New(msg))
	}
}

// Trace reports failed statements and those slower than the threshold.
// Record-not-found is an expected lookup outcome and is skipped.
func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.threshold > 0 && elapsed > l.threshold
	if !failed && !slow {
		return
	}

	sql, rows := fc()
	ctx = l.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch {
	case failed && l.level >= gormlogger.Error:
		l.logg.Error(ctx, "db.query_failed", err)
	case slow && l.level >= gormlogger.Warn:
		l.logg.Warn(ctx, "db.slow_query")
	}
}
