package log

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// Options controls where and how verbosely the logger writes.
type Options struct {
	Level      Level
	File       string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

// Logger provides structured logging
type Logger struct {
	level zap.AtomicLevel
	zl    *zap.Logger
}

// NewLogger creates a new logger with the specified level writing JSON to stderr.
func NewLogger(level Level) *Logger {
	return New(Options{Level: level})
}

// New builds a logger from options. An empty File writes to stderr, otherwise
// output is rotated by lumberjack.
func New(opts Options) *Logger {
	var syncer zapcore.WriteSyncer
	if opts.File == "" {
		syncer = zapcore.Lock(os.Stderr)
	} else {
		syncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxAge:     opts.MaxAge,
			MaxBackups: opts.MaxBackups,
			LocalTime:  true,
			Compress:   opts.Compress,
		})
	}
	return NewWithCore(opts.Level, func(level zap.AtomicLevel) zapcore.Core {
		return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), syncer, level)
	})
}

// NewWithCore builds a logger on a caller supplied core, used by tests to
// observe entries.
func NewWithCore(level Level, build func(zap.AtomicLevel) zapcore.Core) *Logger {
	atomic := zap.NewAtomicLevelAt(zapLevels[level])
	return &Logger{
		level: atomic,
		zl:    zap.New(build(atomic), zap.AddCaller(), zap.AddCallerSkip(2)),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{level: zap.NewAtomicLevel(), zl: zap.NewNop()}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(zapLevels[level])
}

// Zap exposes the underlying zap logger for libraries that accept one.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	ce := l.zl.Check(zapLevels[level], message)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	ce.Write(zf...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(LevelDebug, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(LevelInfo, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(LevelWarn, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(LevelError, message, fields)
}

// LogSlice logs the outcome of one probed slice.
func (l *Logger) LogSlice(index, count, probed, lost int, elapsed time.Duration) {
	l.Debug("slice probed", map[string]interface{}{
		"slice":      index,
		"slices":     count,
		"probed":     probed,
		"lost":       lost,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// LogTransition logs a node health change.
func (l *Logger) LogTransition(nodeID, name, from, to string, lossRatio float64) {
	l.Info("node state changed", map[string]interface{}{
		"node":       nodeID,
		"name":       name,
		"from":       from,
		"to":         to,
		"loss_ratio": lossRatio,
	})
}

// LogAlarm logs an alarm being opened or resolved.
func (l *Logger) LogAlarm(nodeID, name, kind string, alarmID uint) {
	l.Info("alarm "+kind, map[string]interface{}{
		"node":  nodeID,
		"name":  name,
		"alarm": alarmID,
	})
}

// LogConfigLoad logs a config load event
func (l *Logger) LogConfigLoad(success bool, path string, err error) {
	fields := map[string]interface{}{
		"path": path,
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if success {
		l.Info("config loaded", fields)
	} else {
		l.Error("config load failed", fields)
	}
}

// LogError logs a general error
func (l *Logger) LogError(component string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = component
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error("error occurred", fields)
}

// ParseLevel parses a log level string
func ParseLevel(levelStr string) Level {
	switch levelStr {
	case "DEBUG", "debug":
		return LevelDebug
	case "INFO", "info":
		return LevelInfo
	case "WARN", "warn", "WARNING", "warning":
		return LevelWarn
	case "ERROR", "error":
		return LevelError
	default:
		return LevelInfo
	}
}
