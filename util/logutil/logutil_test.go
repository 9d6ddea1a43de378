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

package logutil

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerFallsBackToDefaultWithoutContext(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("Logger must never return nil")
	}
	if Logger(nil) == nil {
		t.Fatal("Logger(nil) must fall back to the process-wide default")
	}
}

func TestWithInstanceIDScopesLoggerToContext(t *testing.T) {
	ctx := WithInstanceID(context.Background(), "op-1")
	scoped := Logger(ctx)
	if scoped == Logger(context.Background()) {
		t.Fatal("a context carrying an instance id must have its own logger instance")
	}
}

func TestInitLoggerReplacesDefault(t *testing.T) {
	before := Logger(context.Background())
	InitLogger("", zapcore.InfoLevel)
	after := Logger(context.Background())
	if before == after {
		t.Fatal("InitLogger must install a new process-wide default logger")
	}
}
