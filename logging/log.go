// Package logging carries a zap logger through context. Library code
// takes its logger from the context it was called with, so callers
// control verbosity and sinks without threading a logger everywhere.
package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type loggerKey struct{}

// NewContext returns ctx with the logger attached.
func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger attached to ctx, or a fresh console
// logger when there is none.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, "", false)
}

// New builds a logger writing to stdout and, when logFileName is set, to
// a size-rotated file. The file sink always logs at debug level; level
// applies to the console.
func New(level zapcore.LevelEnabler, logFileName string, json bool) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}
	if logFileName != "" {
		fileSyncer := zapcore.AddSync(&lumberjack.Logger{
			Filename: logFileName,
			MaxSize:  500,
			MaxAge:   28,
			Compress: true,
		})
		cores = append(cores, zapcore.NewCore(encoder, fileSyncer, zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
