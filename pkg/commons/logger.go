// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging contract used throughout voicecore.
// It is implemented by an application logger backed by zap, but any
// compatible adapter can be substituted at construction sites that accept
// this interface.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Fatalf(format string, args ...interface{})

	// Benchmark records how long a named operation took, at debug level.
	Benchmark(name string, d time.Duration)

	// Sync flushes any buffered log entries.
	Sync() error
}

type applicationLogger struct {
	sugar *zap.SugaredLogger
}

type loggerOptions struct {
	name  string
	path  string
	level string
}

// Option configures NewApplicationLogger.
type Option func(*loggerOptions)

// Name sets the service name attached to every log line.
func Name(name string) Option {
	return func(o *loggerOptions) { o.name = name }
}

// Path sets a directory for rotated log files. When empty, logs go to
// stderr only.
func Path(path string) Option {
	return func(o *loggerOptions) { o.path = path }
}

// Level sets the minimum log level ("debug", "info", "warn", "error").
func Level(level string) Option {
	return func(o *loggerOptions) { o.level = level }
}

// NewApplicationLogger builds a Logger. With no options it logs at info
// level to stderr only, matching the teacher's zero-config default.
func NewApplicationLogger(opts ...Option) (Logger, error) {
	o := loggerOptions{name: "voicecore", level: "info"}
	for _, opt := range opts {
		opt(&o)
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(o.level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(zapWriter())), lvl),
	}
	if o.path != "" {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(o.path, o.name+".log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), lvl))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core).With(zap.String("service", o.name))
	return &applicationLogger{sugar: base.Sugar()}, nil
}

func (l *applicationLogger) Debug(args ...interface{})  { l.sugar.Debug(args...) }
func (l *applicationLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
func (l *applicationLogger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }

func (l *applicationLogger) Info(args ...interface{}) { l.sugar.Info(args...) }
func (l *applicationLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}
func (l *applicationLogger) Infow(msg string, kv ...interface{}) { l.sugar.Infow(msg, kv...) }

func (l *applicationLogger) Warn(args ...interface{}) { l.sugar.Warn(args...) }
func (l *applicationLogger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}
func (l *applicationLogger) Warnw(msg string, kv ...interface{}) { l.sugar.Warnw(msg, kv...) }

func (l *applicationLogger) Error(args ...interface{}) { l.sugar.Error(args...) }
func (l *applicationLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}
func (l *applicationLogger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

func (l *applicationLogger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

func (l *applicationLogger) Benchmark(name string, d time.Duration) {
	l.sugar.Debugw("benchmark", "operation", name, "duration_ms", d.Milliseconds())
}

func (l *applicationLogger) Sync() error { return l.sugar.Sync() }
