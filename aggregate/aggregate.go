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

// Package aggregate is the vectorized aggregator (C7): it produces a
// single partial-aggregate tuple for the entire relation without ever
// materializing a decompressed row.
package aggregate

import (
	"math"

	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/batch"
	"github.com/timescale/decompress-chunk/compression"
	"github.com/timescale/decompress-chunk/vecexpr"
)

// Func is one supported partial-aggregate function.
type Func int

const (
	FuncInvalid Func = iota
	FuncSum
	FuncCountStar // COUNT(*): counts rows, ignores the target column entirely
	FuncCount     // COUNT(col): counts non-null occurrences of col
	FuncMin
	FuncMax
)

func (f Func) String() string {
	switch f {
	case FuncSum:
		return "SUM"
	case FuncCountStar:
		return "COUNT(*)"
	case FuncCount:
		return "COUNT"
	case FuncMin:
		return "MIN"
	case FuncMax:
		return "MAX"
	default:
		return "invalid"
	}
}

// Spec describes the single partial-aggregate expression an aggregating
// operator instance computes — its output tuple list must be exactly
// this one expression, per spec.md §4.6.
type Spec struct {
	Func          Func
	InputPosition int
	Kind          compression.ColumnKind // KindSegmentby or KindCompressed
	Type          compression.LogicalType
	// PresortLeading is true when the aggregated column is also the
	// leading sort-info key, letting MIN/MAX use the batch's own min/max
	// metadata instead of a full decompress (SPEC_FULL.md §4.6).
	PresortLeading bool
}

// ErrNotSupported is raised at operator init, never mid-stream, for an
// aggregate/type combination this package does not implement.
var ErrNotSupported = errors.New("aggregate: not supported")

// Supported reports whether (fn, typ) is implementable, so the operator
// can fail fast at Init rather than mid-stream.
func Supported(fn Func, typ compression.LogicalType) bool {
	switch fn {
	case FuncSum:
		switch typ {
		case compression.TypeInt32, compression.TypeFloat4, compression.TypeFloat8:
			return true
		}
	case FuncCountStar:
		return true
	case FuncCount, FuncMin, FuncMax:
		switch typ {
		case compression.TypeInt16, compression.TypeInt32, compression.TypeInt64,
			compression.TypeFloat4, compression.TypeFloat8:
			return true
		}
	}
	return false
}

// Accumulator holds the running partial-aggregate state across batches.
// Null propagation: Valid is set the first time any non-null input
// contributes; an aggregate that never sees a non-null input produces a
// null result, not zero (except COUNT, which is 0 over an empty input).
type Accumulator struct {
	sumInt   int64
	sumFloat float64
	count    int64
	min, max float64
	Valid    bool
}

// NewAccumulator returns a fresh, empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

// Result returns the accumulated value for spec's function, and whether
// the result is non-null.
func (a *Accumulator) Result(spec Spec) (value float64, valid bool) {
	switch spec.Func {
	case FuncSum:
		if !a.Valid {
			return 0, false
		}
		if spec.Type == compression.TypeInt32 {
			return float64(a.sumInt), true
		}
		return a.sumFloat, true
	case FuncCountStar, FuncCount:
		return float64(a.count), true
	case FuncMin:
		if !a.Valid {
			return 0, false
		}
		return a.min, true
	case FuncMax:
		if !a.Valid {
			return 0, false
		}
		return a.max, true
	default:
		return 0, false
	}
}

// addOverflowCheckedInt64 adds delta to *acc, raising a numeric-range
// error on signed overflow (spec.md §4.6, §7 kind 3).
func addOverflowCheckedInt64(acc *int64, delta int64) error {
	sum := *acc + delta
	if (delta > 0 && sum < *acc) || (delta < 0 && sum > *acc) {
		return errors.Errorf("numeric-range error: SUM overflowed int64 accumulator (%d + %d)", *acc, delta)
	}
	*acc = sum
	return nil
}

// ProcessBatch folds one batch into acc, per spec's per-batch algorithm:
// Segmentby columns use the scalar+count fast path; Compressed columns
// bulk-decompress and loop the values buffer under the validity bitmap.
// decode lazily bulk-decompresses the column at InputPosition if it
// hasn't been already (BatchState.Column returns nil otherwise).
func ProcessBatch(acc *Accumulator, b *batch.State, spec Spec, decode func(inputPos int) (*arena.ColumnarArray, error)) error {
	if !Supported(spec.Func, spec.Type) {
		return errors.Trace(ErrNotSupported)
	}

	if spec.Func == FuncCountStar {
		acc.count += int64(b.Length())
		return nil
	}

	if spec.Kind == compression.KindSegmentby {
		return processSegmentby(acc, b, spec)
	}
	return processCompressed(acc, b, spec, decode)
}

func processSegmentby(acc *Accumulator, b *batch.State, spec Spec) error {
	v, null := b.Segment(spec.InputPosition)
	c := int64(b.Length())
	if null {
		return nil
	}
	fv := toFloat(v)
	switch spec.Func {
	case FuncSum:
		acc.Valid = true
		if spec.Type == compression.TypeInt32 {
			if err := addOverflowCheckedInt64(&acc.sumInt, int64(fv)*c); err != nil {
				return err
			}
		} else {
			acc.sumFloat += fv * float64(c)
		}
	case FuncCount:
		acc.count += c
	case FuncMin:
		acc.Valid = true
		if fv < acc.min {
			acc.min = fv
		}
	case FuncMax:
		acc.Valid = true
		if fv > acc.max {
			acc.max = fv
		}
	}
	return nil
}

func processCompressed(acc *Accumulator, b *batch.State, spec Spec, decode func(int) (*arena.ColumnarArray, error)) error {
	if spec.Func == FuncMin || spec.Func == FuncMax {
		if v, ok := presortBound(b, spec); ok {
			acc.Valid = true
			if spec.Func == FuncMin && v < acc.min {
				acc.min = v
			}
			if spec.Func == FuncMax && v > acc.max {
				acc.max = v
			}
			return nil
		}
	}

	arr := b.Column(spec.InputPosition)
	if arr == nil {
		var err error
		arr, err = decode(spec.InputPosition)
		if err != nil {
			return errors.Trace(err)
		}
	}

	// Because N_MAX * max_elem <= 2^42 for 32-bit integers with batches
	// <= 1024, the per-batch inner loop needs no overflow checks; only the
	// per-batch-to-total addition below does.
	var batchSumInt int64
	var batchSumFloat float64
	var batchCount int64
	var batchMin, batchMax float64
	batchMin, batchMax = math.Inf(1), math.Inf(-1)

	n := arr.Length
	for i := 0; i < n; i++ {
		if !arr.ValidAt(i) {
			continue
		}
		v := vecexpr.ReadElement(arr, i, spec.Type)
		batchCount++
		switch spec.Func {
		case FuncSum:
			if spec.Type == compression.TypeInt32 {
				batchSumInt += int64(v)
			} else {
				batchSumFloat += v
			}
		case FuncMin:
			if v < batchMin {
				batchMin = v
			}
		case FuncMax:
			if v > batchMax {
				batchMax = v
			}
		}
	}

	switch spec.Func {
	case FuncSum:
		if batchCount > 0 {
			acc.Valid = true
		}
		if spec.Type == compression.TypeInt32 {
			if err := addOverflowCheckedInt64(&acc.sumInt, batchSumInt); err != nil {
				return err
			}
		} else {
			acc.sumFloat += batchSumFloat
		}
	case FuncCount:
		acc.count += batchCount
	case FuncMin:
		if batchMin <= batchMax {
			acc.Valid = true
			if batchMin < acc.min {
				acc.min = batchMin
			}
		}
	case FuncMax:
		if batchMin <= batchMax {
			acc.Valid = true
			if batchMax > acc.max {
				acc.max = batchMax
			}
		}
	}
	return nil
}

// presortBound returns the batch's own min/max metadata for spec's
// column when it is also the leading presort key, avoiding a full
// decompress. ok is false when no such metadata is available, and the
// caller must fall back to scanning the decompressed values.
func presortBound(b *batch.State, spec Spec) (float64, bool) {
	if !spec.PresortLeading {
		return 0, false
	}
	mm, ok := b.MinMax(spec.InputPosition)
	if !ok {
		return 0, false
	}
	if spec.Func == FuncMin {
		return toFloat(mm[0]), true
	}
	return toFloat(mm[1]), true
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case float64:
		return x
	case float32:
		return float64(x)
	default:
		return 0
	}
}
