// Package log provides the process-wide leveled logger used across the
// planner, executor and backends. The call-site API (Debugf/Infof/Warnf/
// Errorf/Exitf) is deliberately thin so call sites never import zap
// directly; only this package knows the concrete logging library.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int32

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelMap = map[Level]zapcore.Level{
	Debug: zapcore.DebugLevel,
	Info:  zapcore.InfoLevel,
	Warn:  zapcore.WarnLevel,
	Error: zapcore.ErrorLevel,
}

type Logger struct {
	mu    sync.Mutex
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

func New() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "" // timing is reported by the Measurer, not every log line
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stdout), level)
	return &Logger{
		level: level,
		sugar: zap.New(core).Sugar(),
	}
}

func (l *Logger) SetLevel(lv Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level.SetLevel(levelMap[lv])
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.sugar.Debugf(format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.sugar.Infof(format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.sugar.Warnf(format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.sugar.Errorf(format, v...) }

// Exitf logs at error level and terminates the process with status 1.
func (l *Logger) Exitf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

var std = New()

func SetLevel(lv Level) { std.SetLevel(lv) }

var (
	Debugf = std.Debugf
	Infof  = std.Infof
	Warnf  = std.Warnf
	Errorf = std.Errorf
	Exitf  = std.Exitf
)
