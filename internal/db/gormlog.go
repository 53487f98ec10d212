package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// gormLogger forwards gorm's messages into zerolog. Failed statements log at
// debug because the store classifies and reports them itself.
type gormLogger struct {
	log  zerolog.Logger
	slow time.Duration
}

func newGormLogger(log zerolog.Logger, slow time.Duration) gormlogger.Interface {
	return &gormLogger{log: log, slow: slow}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *g
	switch level {
	case gormlogger.Silent:
		next.log = g.log.Level(zerolog.Disabled)
	case gormlogger.Error:
		next.log = g.log.Level(zerolog.ErrorLevel)
	case gormlogger.Warn:
		next.log = g.log.Level(zerolog.WarnLevel)
	}
	return &next
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...any) {
	g.log.Info().Msg(fmt.Sprintf(msg, args...))
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	g.log.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...any) {
	g.log.Error().Msg(fmt.Sprintf(msg, args...))
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		query, rows := fc()
		g.log.Debug().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", query).Msg("statement failed")
	case g.slow > 0 && elapsed > g.slow:
		query, rows := fc()
		g.log.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", query).Msg("slow statement")
	case g.log.GetLevel() <= zerolog.TraceLevel:
		query, rows := fc()
		g.log.Trace().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", query).Msg("statement")
	}
}
