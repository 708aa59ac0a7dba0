// Package logging wraps zap the way the rest of this toolkit expects:
// package-level Debug/Info/Warn/Error helpers backed by a single
// replaceable *zap.SugaredLogger, with optional file rotation.
package logging

import (
	"os"
	"sync"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	sugared *zap.SugaredLogger
	level   = zap.NewAtomicLevelAt(InfoLevel)
	lastErr error
)

func init() {
	ReplaceDefault(New(os.Stderr, InfoLevel))
}

// New builds a logger writing to w at the given minimum level, console
// encoded with ISO8601 timestamps.
func New(w zapcore.WriteSyncer, lvl Level) *zap.Logger {
	level.SetLevel(lvl)
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), w, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// NewProductionRotateByTime returns a log writer that rotates the given
// path hourly via file-rotatelogs, keeping 72 hours of history.
func NewProductionRotateByTime(path string) zapcore.WriteSyncer {
	w, err := rotatelogs.New(
		path+".%Y%m%d%H",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithMaxAge(72*3600*1e9),
		rotatelogs.WithRotationTime(3600*1e9),
	)
	if err != nil {
		lastErr = err
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(w)
}

// NewProductionRotateBySize returns a log writer that rotates the given
// path once it exceeds maxSizeMB, keeping backups compressed.
func NewProductionRotateBySize(path string, maxSizeMB, maxBackups, maxAgeDays int) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	})
}

// ReplaceDefault swaps the package-level logger used by the helpers below.
func ReplaceDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugared = l.Sugar()
}

func SetLevel(lvl Level) { level.SetLevel(lvl) }

// GetError returns the last internal error encountered while constructing
// a rotating writer (e.g. an unwritable log directory).
func GetError() error { return lastErr }

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func Debug(args ...interface{})                 { current().Debug(args...) }
func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Info(args ...interface{})                  { current().Info(args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warn(args ...interface{})                  { current().Warn(args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Error(args ...interface{})                 { current().Error(args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}
