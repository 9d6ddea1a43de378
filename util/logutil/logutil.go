// Copyright 2024 The decompress-chunk Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil wraps zap the way the teacher's util/logutil wraps it
// elsewhere in this codebase: a package-level logger plus a
// context-scoped accessor, so call sites write logutil.Logger(ctx).Error(...)
// rather than threading a *zap.Logger through every signature.
package logutil

import (
	"context"
	"os"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const loggerKey ctxKey = 0

var defaultLogger = zap.NewNop()

// InitLogger installs the process-wide default logger. filePath is
// optional; when set, output additionally rotates through lumberjack the
// way this family of services manages on-disk log files.
func InitLogger(filePath string, level zapcore.Level) {
	encoder := zap.NewProductionEncoderConfig()
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoder), zapcore.AddSync(os.Stderr), level),
	}
	if filePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoder), zapcore.AddSync(rotator), level))
	}

	defaultLogger = zap.New(zapcore.NewTee(cores...))
}

// WithInstanceID returns a context whose logger carries the given
// operator instance id on every subsequent log line, so multi-operator
// plans can correlate batch-decompression errors back to one instance.
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	l := Logger(ctx).With(zap.String("instance_id", instanceID))
	return context.WithValue(ctx, loggerKey, l)
}

// Logger returns the logger scoped to ctx, or the process-wide default.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
			return l
		}
	}
	return defaultLogger
}
