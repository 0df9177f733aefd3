package logger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// QueryLogConfig controls which statements reach the log.
type QueryLogConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

// QueryLogConfigFor derives the statement log settings for an environment.
// Development logs every statement; elsewhere only errors and slow queries.
func QueryLogConfigFor(environment string, slowQueryMs int) QueryLogConfig {
	cfg := QueryLogConfig{Level: gormlogger.Warn, SlowThreshold: 200 * time.Millisecond}
	if slowQueryMs > 0 {
		cfg.SlowThreshold = time.Duration(slowQueryMs) * time.Millisecond
	}
	if strings.EqualFold(strings.TrimSpace(environment), "development") {
		cfg.Level = gormlogger.Info
	}
	return cfg
}

// QueryLogger writes GORM statements through the service logger so each
// statement carries the request and actor of the call that issued it.
// Not-found lookups are never logged: repositories report absence as a nil
// row, not as a failure.
type QueryLogger struct {
	base *zap.Logger
	cfg  QueryLogConfig
}

func NewQueryLogger(base *zap.Logger, cfg QueryLogConfig) *QueryLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &QueryLogger{base: base, cfg: cfg}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zap.InfoLevel, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zap.WarnLevel, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zap.ErrorLevel, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, enabled gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < enabled {
		return
	}
	fields := make([]zap.Field, 0, 1)
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := WithContext(ctx, l.base).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed statements at error, slow ones at warn and, in
// development, everything else at debug.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	var level zapcore.Level
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.cfg.Level >= gormlogger.Error:
		level = zap.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level = zap.WarnLevel
		err = nil
	case l.cfg.Level >= gormlogger.Info:
		level = zap.DebugLevel
		err = nil
	default:
		return
	}

	ce := WithContext(ctx, l.base).Check(level, "db.query")
	if ce == nil {
		return
	}
	sql, rows := fc()
	sql = strings.TrimSpace(sql)
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.String("operation", statementOperation(sql)),
		zap.String("table", statementTable(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if level == zap.WarnLevel {
		fields = append(fields, zap.Bool("slow", true))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values; payment payloads and bank details must
// not reach the log.
func (l *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

var tablePattern = regexp.MustCompile(`(?i)\b(?:from|into|update|join)\s+["` + "`" + `]?([a-z_][a-z0-9_]*)`)

func statementOperation(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		switch token = strings.Trim(token, "();"); token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return token
		}
	}
	return "OTHER"
}

func statementTable(sql string) string {
	if m := tablePattern.FindStringSubmatch(sql); len(m) == 2 {
		return strings.ToLower(m[1])
	}
	return ""
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
