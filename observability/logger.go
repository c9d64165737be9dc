package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrorLogField is the key used for error fields in logs.
const ErrorLogField string = "error"

// Logger defines the common logging methods used across the module.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithErr(err error) Logger
}

// DefaultLogger is a basic implementation backed by the standard log package.
type DefaultLogger struct {
	logger *log.Logger
	fields map[string]interface{}
	err    error
}

// NewDefaultLogger creates a DefaultLogger that logs to standard output.
func NewDefaultLogger() Logger {
	return &DefaultLogger{
		logger: log.New(os.Stdout, "", log.LstdFlags),
		fields: make(map[string]interface{}),
	}
}

func (l *DefaultLogger) prefix() string {
	var parts []string
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	if l.err != nil {
		parts = append(parts, fmt.Sprintf("%s=%v", ErrorLogField, l.err))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("[%s] ", strings.Join(parts, " "))
}

func (l *DefaultLogger) logf(level, format string, args ...interface{}) {
	l.logger.Printf(l.prefix()+level+format, args...)
}

func (l *DefaultLogger) Debugf(format string, args ...interface{}) {
	l.logf("[DEBUG] ", format, args...)
}
func (l *DefaultLogger) Infof(format string, args ...interface{}) { l.logf("[INFO] ", format, args...) }
func (l *DefaultLogger) Warnf(format string, args ...interface{}) { l.logf("[WARN] ", format, args...) }
func (l *DefaultLogger) Errorf(format string, args ...interface{}) {
	l.logf("[ERROR] ", format, args...)
}

func (l *DefaultLogger) Debug(args ...interface{}) { l.logf("[DEBUG] ", "%s", fmt.Sprint(args...)) }
func (l *DefaultLogger) Info(args ...interface{})  { l.logf("[INFO] ", "%s", fmt.Sprint(args...)) }
func (l *DefaultLogger) Warn(args ...interface{})  { l.logf("[WARN] ", "%s", fmt.Sprint(args...)) }
func (l *DefaultLogger) Error(args ...interface{}) { l.logf("[ERROR] ", "%s", fmt.Sprint(args...)) }

// WithFields returns a copy of the logger with the given fields attached.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &DefaultLogger{logger: l.logger, fields: merged, err: l.err}
}

// WithContext is a no-op for DefaultLogger.
func (l *DefaultLogger) WithContext(ctx context.Context) Logger { return l }

// WithErr returns a copy of the logger with an error attached.
func (l *DefaultLogger) WithErr(err error) Logger {
	return &DefaultLogger{logger: l.logger, fields: l.fields, err: err}
}

// NullLogger discards everything.
type NullLogger struct{}

// NewNullLogger creates a logger that does nothing.
func NewNullLogger() Logger { return &NullLogger{} }

func (l *NullLogger) Debugf(format string, args ...interface{}) {}
func (l *NullLogger) Infof(format string, args ...interface{})  {}
func (l *NullLogger) Warnf(format string, args ...interface{})  {}
func (l *NullLogger) Errorf(format string, args ...interface{}) {}

func (l *NullLogger) Debug(args ...interface{}) {}
func (l *NullLogger) Info(args ...interface{})  {}
func (l *NullLogger) Warn(args ...interface{})  {}
func (l *NullLogger) Error(args ...interface{}) {}

func (l *NullLogger) WithFields(fields map[string]interface{}) Logger { return l }
func (l *NullLogger) WithContext(ctx context.Context) Logger          { return l }
func (l *NullLogger) WithErr(err error) Logger                        { return l }

// LogrusLogger implements Logger using sirupsen/logrus.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a LogrusLogger with the provided logrus.Logger.
// A nil logger falls back to the logrus standard logger.
func NewLogrusLogger(logger *logrus.Logger) Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(logger)}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *LogrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *LogrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

// WithFields adds fields to the logger and returns a new LogrusLogger.
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext adds context to the logger and returns a new LogrusLogger.
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	return &LogrusLogger{entry: l.entry.WithContext(ctx)}
}

// WithErr adds an error to the logger and returns a new LogrusLogger.
func (l *LogrusLogger) WithErr(err error) Logger {
	return &LogrusLogger{entry: l.entry.WithError(err)}
}

// ZapLogger implements Logger using uber-go/zap.
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapLogger creates a ZapLogger with the provided zap.Logger. A nil
// logger falls back to the zap production configuration.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &ZapLogger{logger: logger, sugar: logger.Sugar()}
}

func (l *ZapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *ZapLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *ZapLogger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *ZapLogger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *ZapLogger) Error(args ...interface{}) { l.sugar.Error(args...) }

// WithFields adds fields to the logger and returns a new ZapLogger.
func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	zapFields := make([]zapcore.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	next := l.logger.With(zapFields...)
	return &ZapLogger{logger: next, sugar: next.Sugar()}
}

// WithContext is a no-op for ZapLogger.
func (l *ZapLogger) WithContext(ctx context.Context) Logger { return l }

// WithErr adds an error to the logger and returns a new ZapLogger.
func (l *ZapLogger) WithErr(err error) Logger {
	next := l.logger.With(zap.Error(err))
	return &ZapLogger{logger: next, sugar: next.Sugar()}
}
