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

package planner

import (
	"github.com/timescale/decompress-chunk/compression"
	"github.com/timescale/decompress-chunk/vecexpr"
)

// RawQual is a residual filter as the consumer hands it to the planner,
// before vectorization is attempted: `left op right`, where each operand
// is either a column reference or a runtime constant.
//
// This operator never sees references to variables, placeholders,
// parameters, or volatile functions in the constant position — those
// fail to vectorize by construction (OtherOperandIsColumnOrVolatile).
type RawQual struct {
	ColumnName     string
	ColumnOnLeft   bool
	Op             vecexpr.Operator
	ConstValue     float64
	ConstNull      bool
	// OtherOperandIsColumnOrVolatile marks a qual whose non-column operand
	// is itself a variable reference, placeholder, parameter, or volatile
	// function call — never a vectorization candidate regardless of which
	// side the column is on. This is also where a chunk-row-identifier
	// reference must be rejected: see the Open Question in spec.md §9 about
	// the source's "what is a column reference" check being wrong for that
	// corner case. We resolve it here by treating the rowid pass-through
	// column as a column reference for *classification* purposes (it can
	// appear as the qualified Var) but never as a valid *constant* operand —
	// a qual comparing two real columns (rowid included) is never
	// vectorizable, it only ever has one Var operand by construction of
	// RawQual itself.
	OtherOperandIsColumnOrVolatile bool
}

// ClassificationResult holds the outcome of classifying one operator
// instance's full residual list.
type ClassificationResult struct {
	Vectorized    []vecexpr.Qual
	Residual      []RawQual
	ConstantFalse bool
}

// ClassifyQuals implements spec.md §4.1's qualifier classification: a
// qual is vectorizable iff (i) it is binary, (ii) after optional
// commutation exactly one operand is a Compressed-column reference with
// bulk_ok and the other is a runtime constant, and (iii) the operator is
// registered for that column's logical type. The commutation rule: if the
// constant is on the left, replace the operator with its registered
// commuter, failing to vectorize if none exists.
func ClassifyQuals(quals []RawQual, table *compression.DescriptorTable) ClassificationResult {
	var res ClassificationResult
	byName := make(map[string]compression.ColumnDescriptor, len(table.Descriptors))
	for _, d := range table.Descriptors {
		byName[d.Name] = d
	}

	for _, q := range quals {
		vq, ok := tryVectorize(q, byName)
		if !ok {
			res.Residual = append(res.Residual, q)
			continue
		}
		res.Vectorized = append(res.Vectorized, vq)
		if isLiteralFalse(vq) {
			res.ConstantFalse = true
		}
	}
	return res
}

func tryVectorize(q RawQual, byName map[string]compression.ColumnDescriptor) (vecexpr.Qual, bool) {
	if q.OtherOperandIsColumnOrVolatile {
		return vecexpr.Qual{}, false
	}
	d, ok := byName[q.ColumnName]
	if !ok || d.Kind != compression.KindCompressed || !d.BulkOK {
		return vecexpr.Qual{}, false
	}

	op := q.Op
	if q.ColumnOnLeft {
		// Operand order already matches `Var op Const`; nothing to commute.
	} else {
		// The constant appeared on the left: `Const op Var`. Replace the
		// operator with its registered commuter so the qual reads as
		// `Var commuted-op Const`.
		commuted, ok := vecexpr.Commute(op)
		if !ok {
			return vecexpr.Qual{}, false
		}
		op = commuted
	}

	if !vecexpr.Registered(op, d.LogicalType) {
		return vecexpr.Qual{}, false
	}

	return vecexpr.Qual{
		InputPosition: d.InputPosition,
		Type:          d.LogicalType,
		Op:            op,
		Const:         q.ConstValue,
		ConstNull:     q.ConstNull,
	}, true
}

// isLiteralFalse reports a constified-to-false qual: a strict operator
// whose constant is null always fails every row (spec.md §4.3), which the
// operator treats the same as "emit nothing" at the whole-operator level.
func isLiteralFalse(q vecexpr.Qual) bool {
	return q.ConstNull && vecexpr.Strict(q.Op)
}
