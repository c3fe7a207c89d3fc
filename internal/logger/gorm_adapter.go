package logger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/feedercam/internal/errors"
)

// GormLoggerAdapter routes GORM output into a module logger. Statements log
// at TRACE; failed and slow statements at WARN. GORM's own log level is
// ignored in favour of the module level.
type GormLoggerAdapter struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*GormLoggerAdapter)(nil)

// NewGormLoggerAdapter creates an adapter that warns about statements taking
// longer than slow. A zero slow disables the warning; a nil log discards.
func NewGormLoggerAdapter(log Logger, slow time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = NewDiscardLogger()
	}
	return &GormLoggerAdapter{log: log, slow: slow}
}

// LogMode implements gormlogger.Interface.
func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return a }

// Info implements gormlogger.Interface. Migration chatter goes to DEBUG.
func (a *GormLoggerAdapter) Info(_ context.Context, msg string, data ...any) {
	a.log.Debug(fmt.Sprintf(msg, data...))
}

// Warn implements gormlogger.Interface.
func (a *GormLoggerAdapter) Warn(_ context.Context, msg string, data ...any) {
	a.log.Warn(fmt.Sprintf(msg, data...))
}

// Error implements gormlogger.Interface.
func (a *GormLoggerAdapter) Error(_ context.Context, msg string, data ...any) {
	a.log.Error(fmt.Sprintf(msg, data...))
}

// Trace implements gormlogger.Interface. A missing row is not a failure.
func (a *GormLoggerAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []Field{
		String("sql", sql),
		Int64("rows", rows),
		Duration("elapsed", elapsed),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		a.log.Warn("session store query failed", append(fields, Error(err))...)
		return
	}
	if a.slow > 0 && elapsed > a.slow {
		a.log.Warn("slow session store query", append(fields, Duration("threshold", a.slow))...)
		return
	}
	a.log.Trace("session store query", fields...)
}
