package db

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LogrusLogger forwards gorm's log output to a logrus logger so SQL errors and
// slow queries end up in the same structured stream as the rest of the service.
type LogrusLogger struct {
	log           *logrus.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

var _ logger.Interface = (*LogrusLogger)(nil)

// NewLogrusLogger creates a gorm logger reporting warnings and errors.
func NewLogrusLogger(log *logrus.Logger, slowThreshold time.Duration) *LogrusLogger {
	return &LogrusLogger{log: log, level: logger.Warn, slowThreshold: slowThreshold}
}

func (l *LogrusLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.entry(ctx).Infof(msg, args...)
	}
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.entry(ctx).Warnf(msg, args...)
	}
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.entry(ctx).Errorf(msg, args...)
	}
}

func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !eris.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.entry(ctx).WithFields(logrus.Fields{
			"elapsed": elapsed.String(),
			"rows":    rows,
			"sql":     sql,
			"error":   err.Error(),
		}).Error("sql query failed")
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.entry(ctx).WithFields(logrus.Fields{
			"elapsed": elapsed.String(),
			"rows":    rows,
			"sql":     sql,
		}).Warn("slow sql query")
	case l.level >= logger.Info:
		sql, rows := fc()
		l.entry(ctx).WithFields(logrus.Fields{
			"elapsed": elapsed.String(),
			"rows":    rows,
			"sql":     sql,
		}).Debug("sql query")
	}
}

func (l *LogrusLogger) entry(ctx context.Context) *logrus.Entry {
	return l.log.WithContext(ctx).WithField("component", "gorm")
}
