package datacache

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// LogLevel defines the severity level for logging
type LogLevel int

const (
	// LogLevelDebug enables all log messages including detailed debugging
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables informational messages and above
	LogLevelInfo

	// LogLevelWarn enables warning messages and above
	LogLevelWarn

	// LogLevelError enables only error messages
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a configuration string to a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off":
		return LogLevelNone, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger defines the interface for cache logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// F is a convenience function to create a logging field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ZapLogger adapts a *zap.Logger to Logger
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps z; a nil z yields a no-op zap logger
func NewZapLogger(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{z: z}
}

// NewDefaultLogger creates a production zap logger writing JSON to stderr
// at the given level
func NewDefaultLogger(level LogLevel) Logger {
	if level == LogLevelNone {
		return NewNoOpLogger()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.Sampling = nil
	z, err := cfg.Build()
	if err != nil {
		return NewNoOpLogger()
	}
	return NewZapLogger(z.Named("datacache"))
}

// Zap returns the underlying zap logger
func (zl *ZapLogger) Zap() *zap.Logger {
	return zl.z
}

// Debug logs a debug message
func (zl *ZapLogger) Debug(msg string, fields ...Field) {
	zl.z.Debug(msg, zapFields(fields)...)
}

// Info logs an info message
func (zl *ZapLogger) Info(msg string, fields ...Field) {
	zl.z.Info(msg, zapFields(fields)...)
}

// Warn logs a warning message
func (zl *ZapLogger) Warn(msg string, fields ...Field) {
	zl.z.Warn(msg, zapFields(fields)...)
}

// Error logs an error message
func (zl *ZapLogger) Error(msg string, fields ...Field) {
	zl.z.Error(msg, zapFields(fields)...)
}

// With creates a new logger with additional fields
func (zl *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{z: zl.z.With(zapFields(fields)...)}
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// NoOpLogger is a logger that does nothing - useful for disabling logging
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that discards all messages
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (nol *NoOpLogger) Debug(string, ...Field) {}
func (nol *NoOpLogger) Info(string, ...Field)  {}
func (nol *NoOpLogger) Warn(string, ...Field)  {}
func (nol *NoOpLogger) Error(string, ...Field) {}
func (nol *NoOpLogger) With(...Field) Logger   { return nol }

// LoggingConfig selects which cache events NewLoggingHooks logs
type LoggingConfig struct {
	Logger Logger

	LogLoads    bool
	LogReleases bool
	LogAutosave bool
	LogWipes    bool
	LogChanges  bool
	LogKicks    bool

	// IncludeValues adds the record payload to log lines
	IncludeValues bool

	// MaxValueLength limits the length of values included in logs
	MaxValueLength int
}

// NewDefaultLoggingConfig logs lifecycle events but not autosaves or changes
func NewDefaultLoggingConfig(logger Logger) *LoggingConfig {
	return &LoggingConfig{
		Logger:         logger,
		LogLoads:       true,
		LogReleases:    true,
		LogWipes:       true,
		LogKicks:       true,
		MaxValueLength: 100,
	}
}

// NewLoggingHooks creates a set of hooks that log cache events
func NewLoggingHooks(config *LoggingConfig) *Hooks {
	hooks := &Hooks{}
	if config == nil || config.Logger == nil {
		return hooks
	}
	logger := config.Logger

	value := func(fields []Field, data any) []Field {
		if config.IncludeValues {
			fields = append(fields, F("value", truncateValue(fmt.Sprintf("%v", data), config.MaxValueLength)))
		}
		return fields
	}

	if config.LogLoads {
		hooks.AddOnLoaded(func(id int64, data record.Data) {
			logger.Info("Entity loaded", value([]Field{F("entity", id), F("event", "loaded")}, data)...)
		})
	}
	if config.LogReleases {
		hooks.AddOnReleased(func(id int64, r *record.Record) {
			logger.Info("Entity released", value([]Field{F("entity", id), F("event", "released"), F("version", r.Version)}, r.Data)...)
		})
	}
	if config.LogAutosave {
		hooks.AddOnAutoSave(func(id int64, r *record.Record) {
			logger.Debug("Autosave", F("entity", id), F("event", "autosave"), F("version", r.Version))
		})
	}
	if config.LogWipes {
		hooks.AddOnWiped(func(id int64) {
			logger.Info("Entity wiped", F("entity", id), F("event", "wiped"))
		})
	}
	if config.LogChanges {
		hooks.AddOnChanged(func(id int64, _, cur record.Data) {
			logger.Debug("Entity changed", value([]Field{F("entity", id), F("event", "changed")}, cur)...)
		})
	}
	if config.LogKicks {
		hooks.AddOnKicked(func(id int64, reason string) {
			logger.Warn("Entity kicked", F("entity", id), F("event", "kicked"), F("reason", reason))
		})
	}

	return hooks
}

func truncateValue(value string, maxLength int) string {
	if maxLength <= 3 || len(value) <= maxLength {
		return value
	}
	return value[:maxLength-3] + "..."
}
