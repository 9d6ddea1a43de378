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

// Package config holds the process-wide, read-mostly global state this
// operator depends on: the enumerated configuration switches (spec.md
// §6) and the codec registry, injected into an operator instance at
// Init via a context the way the teacher injects session-wide globals.
package config

import (
	"context"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/codec"
)

// RequireVectorQual is the testing gate from spec.md §6.
type RequireVectorQual string

const (
	VectorQualAllow   RequireVectorQual = "allow"
	VectorQualForbid  RequireVectorQual = "forbid"
	VectorQualRequire RequireVectorQual = "require"
)

// Switches holds the enumerated configuration knobs.
type Switches struct {
	EnableBulkDecompression     bool              `toml:"enable_bulk_decompression"`
	EnableVectorizedAggregation bool              `toml:"enable_vectorized_aggregation"`
	RequireVectorQual           RequireVectorQual `toml:"require_vector_qual"`
	RequireBatchSortedMerge     bool              `toml:"require_batch_sorted_merge"`
	// ArenaTargetOverrideBytes, when non-zero, replaces the computed arena
	// sizing formula of §3 — an operational knob for operators whose
	// column set the formula under- or over-estimates in practice.
	ArenaTargetOverrideBytes int `toml:"arena_target_override_bytes"`
}

// Defaults returns the compiled-in default switches, used when no TOML
// file is present.
func Defaults() Switches {
	return Switches{
		EnableBulkDecompression:     true,
		EnableVectorizedAggregation: true,
		RequireVectorQual:           VectorQualAllow,
		RequireBatchSortedMerge:     false,
	}
}

// LoadFile reads switches from a TOML file, falling back to Defaults()
// for any field the file omits.
func LoadFile(path string) (Switches, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Switches{}, errors.Annotatef(err, "loading config file %q", path)
	}
	return s, nil
}

type ctxKey int

const (
	switchesKey ctxKey = iota
	registryKey
)

// WithSwitches injects Switches into ctx, the way this operator family
// threads read-mostly globals through a context at init rather than
// reaching for package-level mutable state.
func WithSwitches(ctx context.Context, s Switches) context.Context {
	return context.WithValue(ctx, switchesKey, s)
}

// SwitchesFrom retrieves the Switches injected by WithSwitches, or the
// compiled-in defaults if none were injected.
func SwitchesFrom(ctx context.Context) Switches {
	if s, ok := ctx.Value(switchesKey).(Switches); ok {
		return s
	}
	return Defaults()
}

// WithRegistry injects the process-wide codec registry into ctx.
func WithRegistry(ctx context.Context, r *codec.Registry) context.Context {
	return context.WithValue(ctx, registryKey, r)
}

// RegistryFrom retrieves the codec registry injected by WithRegistry, or
// a fresh default registry if none was injected.
func RegistryFrom(ctx context.Context) *codec.Registry {
	if r, ok := ctx.Value(registryKey).(*codec.Registry); ok {
		return r
	}
	return codec.NewRegistry()
}
