// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package log is the application logger of the pvm binary.
// Engine components log through named hclog loggers, this one is used by the surrounding server code.
package log

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pvmflow/pvm/internal/profile"
)

var (
	logger *zap.SugaredLogger
	once   sync.Once
)

// Init sets up the logger for the current profile, LOG_LEVEL overrides the default info level
func Init() {
	once.Do(func() {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
			if parsed, err := zapcore.ParseLevel(lvl); err == nil {
				level.SetLevel(parsed)
			}
		}
		conf := zap.NewDevelopmentConfig()
		if profile.Current.JSONLogs() {
			conf = zap.NewProductionConfig()
		}
		conf.Level = level
		conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := conf.Build(zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
		logger = l.Sugar()
	})
}

// SetLogger replaces the logger, tests use it with zaptest or observer cores
func SetLogger(l *zap.Logger) {
	once.Do(func() {})
	logger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func get() *zap.SugaredLogger {
	if logger == nil {
		Init()
	}
	return logger
}

func withTrace(ctx context.Context) *zap.SugaredLogger {
	l := get()
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return l.With("traceId", spanCtx.TraceID().String(), "spanId", spanCtx.SpanID().String())
}

func Info(format string, args ...any) {
	get().Infof(format, args...)
}

func Error(format string, args ...any) {
	get().Errorf(format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	withTrace(ctx).Infof(format, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	withTrace(ctx).Debugf(format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	withTrace(ctx).Warnf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	withTrace(ctx).Errorf(format, args...)
}

// Sync flushes buffered entries, call it before the process exits
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
