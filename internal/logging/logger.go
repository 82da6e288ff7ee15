// Package logging provides structured logging for Mind Sprite.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a config string onto a Level. Unknown values mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Config controls where logs go
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"` // empty disables the rotating file sink
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig logs INFO and above to stdout only
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 30,
		MaxAgeDays: 90,
	}
}

// Logger is a structured logger
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	mu          sync.RWMutex
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	fileSink    *lumberjack.Logger
	output      io.Writer = os.Stdout

	defaultLogger = build(os.Stdout, nil)
)

func build(w io.Writer, file *lumberjack.Logger) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), atomicLevel),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), atomicLevel))
	}

	z := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{sugar: z.Sugar()}
}

// Init configures the global logger from cfg
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	atomicLevel.SetLevel(ParseLevel(cfg.Level).zapLevel())

	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
	}
	if cfg.File != "" {
		fileSink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	defaultLogger = build(output, fileSink)
	return nil
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	atomicLevel.SetLevel(level.zapLevel())
}

// GetLevel returns the current global log level
func GetLevel() Level {
	switch atomicLevel.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return ERROR
	default:
		return INFO
	}
}

// SetOutput sets the console writer
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	defaultLogger = build(w, fileSink)
}

// Sync flushes buffered entries
func Sync() error {
	return current().sugar.Sync()
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// WithField returns a logger with a field added
func WithField(key string, value interface{}) *Logger {
	return current().WithField(key, value)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return current().WithFields(fields)
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(key, value)}
}

// WithFields adds multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	switch level {
	case DEBUG:
		l.sugar.Debugf(msg, args...)
	case INFO:
		l.sugar.Infof(msg, args...)
	case WARN:
		l.sugar.Warnf(msg, args...)
	default:
		l.sugar.Errorf(msg, args...)
	}
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	current().log(DEBUG, msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	current().log(INFO, msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	current().log(WARN, msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	current().log(ERROR, msg, args...)
}

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
